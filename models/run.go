package models

import "time"

type RunStatus string

const (
	RunStatusRunning            RunStatus = "running"
	RunStatusCompleted          RunStatus = "completed"
	RunStatusCompletedWithError RunStatus = "completed_with_error"
	RunStatusAbandoned          RunStatus = "abandoned"
)

// Session is one scraping cycle as recorded by the store.
type Session struct {
	ID              int64      `json:"id" db:"id"`
	CorrelationID   string     `json:"correlation_id" db:"correlation_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at" db:"completed_at"`
	Status          RunStatus  `json:"status" db:"status"`
	PropertiesFound int        `json:"properties_found" db:"properties_found"`
	NewProperties   int        `json:"new_properties" db:"new_properties"`
	Errors          string     `json:"errors,omitempty" db:"errors"`
}

type Stats struct {
	TotalProperties int `json:"total_properties"`
	TodayProperties int `json:"today_properties"`
	TodaySessions   int `json:"today_sessions"`
}
