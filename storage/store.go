package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"homeus/config"
	"homeus/models"
)

// Store is the durable record of every listing seen so far and of each
// scraping session.
type Store interface {
	IsNew(ctx context.Context, externalID string) (bool, error)
	// Save inserts the listing or replaces every field of the stored row.
	// first_seen_at is kept from the original insert.
	Save(ctx context.Context, l *models.Listing) error
	TouchLastSeen(ctx context.Context, externalID string) error
	// MarkInactive flags active listings last seen before cutoff as no
	// longer listed and returns how many rows changed.
	MarkInactive(ctx context.Context, cutoff time.Time) (int64, error)

	StartSession(ctx context.Context) (*models.Session, error)
	// FinishSession closes a session. A non-nil cycleErr records the error
	// and zeroes both counters.
	FinishSession(ctx context.Context, id int64, found, newCount int, cycleErr error) error
	// AbandonRunningSessions marks sessions left running by an interrupted
	// process as abandoned.
	AbandonRunningSessions(ctx context.Context) (int64, error)

	RecentListings(ctx context.Context, limit int) ([]models.StoredListing, error)
	RecentSessions(ctx context.Context, limit int) ([]models.Session, error)
	Stats(ctx context.Context) (*models.Stats, error)

	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URL)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func finishedStatus(cycleErr error) (models.RunStatus, string) {
	if cycleErr != nil {
		return models.RunStatusCompletedWithError, cycleErr.Error()
	}
	return models.RunStatusCompleted, ""
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeImages(raw string) []string {
	images := []string{}
	if raw == "" {
		return images
	}
	json.Unmarshal([]byte(raw), &images)
	return images
}

func propertyType(l *models.Listing) string {
	if l.PropertyType == "" {
		return models.DefaultPropertyType
	}
	return l.PropertyType
}
