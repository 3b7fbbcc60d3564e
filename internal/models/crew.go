package models

import "time"

// Crew is the persistent group chat a wave unlocks into. The wave context is
// denormalized so the chat can pin it after the wave is gone.
type Crew struct {
	ID           int        `db:"id" json:"id"`
	WaveID       *int       `db:"wave_id" json:"wave_id,omitempty"`
	CreatorID    int        `db:"creator_id" json:"creator_id"`
	ActivityType string     `db:"activity_type" json:"activity_type"`
	Area         string     `db:"area" json:"area"`
	Thought      *string    `db:"thought" json:"thought,omitempty"`
	LocationName *string    `db:"location_name" json:"location_name,omitempty"`
	ScheduledFor *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CrewSummary is a crew as listed for one of its members.
type CrewSummary struct {
	Crew
	MemberCount   int          `db:"member_count" json:"member_count"`
	LastMessage   *CrewMessage `json:"last_message,omitempty"`
	LastMessageAt *time.Time   `db:"last_message_at" json:"-"`
}

// CrewMessage is one append-only chat entry.
type CrewMessage struct {
	ID        int       `db:"id" json:"id"`
	CrewID    int       `db:"crew_id" json:"crew_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CrewEvent is broadcast to websocket subscribers of a crew.
type CrewEvent struct {
	Type    string       `json:"type"`
	Message *CrewMessage `json:"message,omitempty"`
}
