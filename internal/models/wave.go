package models

import "time"

// Wave is an ephemeral, geolocated broadcast of intent to do an activity.
type Wave struct {
	ID           int        `db:"id" json:"id"`
	CreatorID    int        `db:"creator_id" json:"creator_id"`
	ActivityType string     `db:"activity_type" json:"activity_type"`
	Area         string     `db:"area" json:"area"`
	Thought      *string    `db:"thought" json:"thought,omitempty"`
	LocationName *string    `db:"location_name" json:"location_name,omitempty"`
	Latitude     *float64   `db:"latitude" json:"latitude,omitempty"`
	Longitude    *float64   `db:"longitude" json:"longitude,omitempty"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	Threshold    int        `db:"threshold" json:"threshold"`
	IsUnlocked   bool       `db:"is_unlocked" json:"is_unlocked"`
	CrewID       *int       `db:"crew_id" json:"crew_id,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
}

// HasLocation reports whether the wave carries coordinates.
func (w Wave) HasLocation() bool {
	return w.Latitude != nil && w.Longitude != nil
}

// IsExpired reports whether the wave is past its expiry at now.
func (w Wave) IsExpired(now time.Time) bool {
	return !w.ExpiresAt.After(now)
}

// WaveWithCount is a wave row joined with its participant count.
type WaveWithCount struct {
	Wave
	ParticipantCount int  `db:"participant_count" json:"participant_count"`
	Joined           bool `db:"joined" json:"joined"`
}

// WaveView is the API representation of a wave for a specific requester.
type WaveView struct {
	Wave
	ParticipantCount int      `json:"participant_count"`
	Joined           bool     `json:"joined"`
	DistanceKm       *float64 `json:"distance_km"`
}

// WaveParticipant is the membership of one user in one wave.
type WaveParticipant struct {
	WaveID   int       `db:"wave_id" json:"wave_id"`
	UserID   int       `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// WaveEvent is pushed over websocket connections watching a wave.
type WaveEvent struct {
	Type             string `json:"type"`
	WaveID           int    `json:"wave_id"`
	ParticipantCount int    `json:"participant_count"`
	CrewID           *int   `json:"crew_id,omitempty"`
}
