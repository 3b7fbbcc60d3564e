package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"wave-service/internal/models"
)

// CrewMessageRepository defines interactions for crew messages.
type CrewMessageRepository interface {
	CreateMessage(ctx context.Context, crewID int, senderID int, content string) (models.CrewMessage, error)
	ListMessages(ctx context.Context, crewID int, afterID int, limit int) ([]models.CrewMessage, error)
}

// CrewMessageRepo is a sqlx-backed implementation.
type CrewMessageRepo struct {
	db *sqlx.DB
}

// NewCrewMessageRepo constructs a CrewMessageRepo.
func NewCrewMessageRepo(db *sqlx.DB) *CrewMessageRepo {
	return &CrewMessageRepo{db: db}
}

// CreateMessage appends a message to a crew.
func (r *CrewMessageRepo) CreateMessage(ctx context.Context, crewID int, senderID int, content string) (models.CrewMessage, error) {
	var msg models.CrewMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO crew_messages (crew_id, sender_id, content) VALUES ($1, $2, $3)
        RETURNING id, crew_id, sender_id, content, created_at`, crewID, senderID, content).StructScan(&msg)
	return msg, err
}

const (
	newestMessagesQuery = `SELECT id, crew_id, sender_id, content, created_at FROM (
            SELECT id, crew_id, sender_id, content, created_at FROM crew_messages
            WHERE crew_id=$1
            ORDER BY created_at DESC, id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	messagesAfterQuery = `SELECT id, crew_id, sender_id, content, created_at FROM crew_messages
        WHERE crew_id=$1 AND id > $2
        ORDER BY created_at ASC, id ASC
        LIMIT $3`
)

// ListMessages returns messages ordered oldest to newest. Without a cursor it
// returns the newest limit messages; with afterID it returns the oldest limit
// messages after that id so a poller that falls behind catches up page by page.
func (r *CrewMessageRepo) ListMessages(ctx context.Context, crewID int, afterID int, limit int) ([]models.CrewMessage, error) {
	msgs := []models.CrewMessage{}
	var err error
	if afterID > 0 {
		err = r.db.SelectContext(ctx, &msgs, messagesAfterQuery, crewID, afterID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, newestMessagesQuery, crewID, limit)
	}
	return msgs, err
}
