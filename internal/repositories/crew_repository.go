package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"wave-service/internal/models"
)

var ErrCrewNotFound = errors.New("crew not found")

// CrewRepository abstracts crew persistence. Crews are only ever created by
// WaveRepository.Unlock.
type CrewRepository interface {
	GetCrew(ctx context.Context, crewID int) (models.Crew, error)
	IsMember(ctx context.Context, crewID int, userID int) (bool, error)
	ListMemberIDs(ctx context.Context, crewID int) ([]int, error)
	ListCrewsForUser(ctx context.Context, userID int) ([]models.CrewSummary, error)
}

// CrewRepo is a sqlx implementation of CrewRepository.
type CrewRepo struct {
	db *sqlx.DB
}

// NewCrewRepo constructs a CrewRepo.
func NewCrewRepo(db *sqlx.DB) *CrewRepo {
	return &CrewRepo{db: db}
}

const crewColumns = `c.id, c.wave_id, c.creator_id, c.activity_type, c.area, c.thought, c.location_name, c.scheduled_for, c.created_at`

// GetCrew fetches a single crew.
func (r *CrewRepo) GetCrew(ctx context.Context, crewID int) (models.Crew, error) {
	var crew models.Crew
	err := r.db.GetContext(ctx, &crew, `SELECT `+crewColumns+` FROM crews c WHERE c.id=$1`, crewID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Crew{}, ErrCrewNotFound
	}
	return crew, err
}

// IsMember checks membership.
func (r *CrewRepo) IsMember(ctx context.Context, crewID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM crew_members WHERE crew_id=$1 AND user_id=$2)`, crewID, userID)
	return exists, err
}

// ListMemberIDs returns the frozen member set of a crew.
func (r *CrewRepo) ListMemberIDs(ctx context.Context, crewID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM crew_members WHERE crew_id=$1 ORDER BY joined_at ASC, user_id ASC`, crewID)
	return ids, err
}

type crewSummaryRow struct {
	models.Crew
	MemberCount     int        `db:"member_count"`
	LastMessageID   *int       `db:"last_message_id"`
	LastSenderID    *int       `db:"last_sender_id"`
	LastContent     *string    `db:"last_content"`
	LastMessageTime *time.Time `db:"last_created_at"`
}

// ListCrewsForUser returns crews that include the user, most recently active first.
func (r *CrewRepo) ListCrewsForUser(ctx context.Context, userID int) ([]models.CrewSummary, error) {
	query := `SELECT ` + crewColumns + `,
        (SELECT COUNT(*) FROM crew_members cm2 WHERE cm2.crew_id = c.id) AS member_count,
        lm.id AS last_message_id, lm.sender_id AS last_sender_id, lm.content AS last_content, lm.created_at AS last_created_at
        FROM crews c
        INNER JOIN crew_members cm ON cm.crew_id = c.id AND cm.user_id = $1
        LEFT JOIN LATERAL (
            SELECT m.id, m.sender_id, m.content, m.created_at FROM crew_messages m
            WHERE m.crew_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1
        ) lm ON TRUE
        ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.id DESC`

	var rows []crewSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	result := make([]models.CrewSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.CrewSummary{Crew: row.Crew, MemberCount: row.MemberCount, LastMessageAt: row.LastMessageTime}
		if row.LastMessageID != nil {
			summary.LastMessage = &models.CrewMessage{
				ID:        *row.LastMessageID,
				CrewID:    row.ID,
				SenderID:  deref(row.LastSenderID),
				Content:   derefString(row.LastContent),
				CreatedAt: *row.LastMessageTime,
			}
		}
		result = append(result, summary)
	}
	return result, nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
