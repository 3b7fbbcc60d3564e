package models

import "time"

// ScheduledListing is an externally managed scheduled activity.
type ScheduledListing struct {
	ID            int        `db:"id" json:"id"`
	Title         string     `db:"title" json:"title"`
	Category      string     `db:"category" json:"category"`
	Latitude      *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64   `db:"longitude" json:"longitude,omitempty"`
	StartsAt      *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt        *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	AttendeeCount int        `db:"attendee_count" json:"attendee_count"`
}

// Feed item kinds.
const (
	FeedKindWave    = "wave"
	FeedKindListing = "listing"
)

// FeedItem is the normalized shape shared by waves and listings in the merged
// discovery feed.
type FeedItem struct {
	Kind             string     `json:"kind"`
	ID               int        `json:"id"`
	Title            string     `json:"title"`
	Category         string     `json:"category"`
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	Popularity       int        `json:"popularity"`
	IsHappeningToday bool       `json:"is_happening_today"`
	IsThisWeekend    bool       `json:"is_this_weekend"`
	DistanceKm       *float64   `json:"distance_km"`
}
