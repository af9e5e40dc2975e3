package models

import (
	"time"
)

const (
	DefaultPropertyType = "apartment"
	UnknownLocation     = "Unknown"
	UnknownTitle        = "Unknown"
)

// Listing is one property as extracted from a source site.
type Listing struct {
	ExternalID   string     `json:"external_id" db:"external_id"`
	Source       string     `json:"source" db:"source"`
	Title        string     `json:"title" db:"title"`
	Price        *int       `json:"price,omitempty" db:"price"`
	Currency     string     `json:"currency" db:"currency"`
	Location     string     `json:"location" db:"location"`
	District     string     `json:"district,omitempty" db:"district"`
	SizeM2       *float64   `json:"size_m2,omitempty" db:"size_m2"`
	Rooms        *int       `json:"rooms,omitempty" db:"rooms"`
	Bedrooms     *int       `json:"bedrooms,omitempty" db:"bedrooms"`
	Floor        string     `json:"floor,omitempty" db:"floor"`
	TotalFloors  *int       `json:"total_floors,omitempty" db:"total_floors"`
	PropertyType string     `json:"property_type" db:"property_type"`
	Description  string     `json:"description,omitempty" db:"description"`
	Images       []string   `json:"images" db:"images"`
	SourceURL    string     `json:"source_url" db:"source_url"`
	DetailURL    string     `json:"detail_url,omitempty" db:"detail_url"`
	ListingDate  *time.Time `json:"listing_date,omitempty" db:"listing_date"`
	ScrapedAt    time.Time  `json:"scraped_at" db:"scraped_at"`

	// IsNew is set by the orchestrator and never persisted.
	IsNew bool `json:"-" db:"-"`
}

// Merge overlays the non-empty fields of detail onto l. Identity and the
// originating search URL stay with l, and a known card location is kept.
func (l *Listing) Merge(detail *Listing) {
	if detail == nil {
		return
	}
	if detail.Title != "" && detail.Title != UnknownTitle {
		l.Title = detail.Title
	}
	if detail.Price != nil {
		l.Price = detail.Price
		l.Currency = detail.Currency
	}
	if detail.Location != "" && (l.Location == "" || l.Location == UnknownLocation) {
		l.Location = detail.Location
	}
	if detail.District != "" {
		l.District = detail.District
	}
	if detail.SizeM2 != nil {
		l.SizeM2 = detail.SizeM2
	}
	if detail.Rooms != nil {
		l.Rooms = detail.Rooms
	}
	if detail.Bedrooms != nil {
		l.Bedrooms = detail.Bedrooms
	}
	if detail.Floor != "" {
		l.Floor = detail.Floor
	}
	if detail.TotalFloors != nil {
		l.TotalFloors = detail.TotalFloors
	}
	if detail.PropertyType != "" && detail.PropertyType != DefaultPropertyType {
		l.PropertyType = detail.PropertyType
	}
	if detail.Description != "" {
		l.Description = detail.Description
	}
	if len(detail.Images) > 0 {
		l.Images = detail.Images
	}
	if detail.ListingDate != nil {
		l.ListingDate = detail.ListingDate
	}
	if l.DetailURL == "" {
		l.DetailURL = detail.DetailURL
	}
}

// StoredListing is a Listing together with the bookkeeping columns the store
// maintains for it.
type StoredListing struct {
	Listing
	Hash        string    `json:"hash" db:"hash"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
	IsActive    bool      `json:"is_active" db:"is_active"`
}
