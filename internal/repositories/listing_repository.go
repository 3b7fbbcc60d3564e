package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"wave-service/internal/models"
)

// ListingRepo reads scheduled events published by the events service.
type ListingRepo struct {
	db *sqlx.DB
}

// NewListingRepo constructs a ListingRepo.
func NewListingRepo(db *sqlx.DB) *ListingRepo {
	return &ListingRepo{db: db}
}

// ListUpcoming returns published listings that have not ended yet.
func (r *ListingRepo) ListUpcoming(ctx context.Context, now time.Time, category string, limit int) ([]models.ScheduledListing, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, title, category, latitude, longitude, starts_at, ends_at, attendee_count
        FROM scheduled_events
        WHERE is_published = TRUE
        AND (ends_at IS NULL OR ends_at > $1)
        AND ($2 = '' OR category = $2)
        ORDER BY starts_at ASC NULLS LAST, id ASC
        LIMIT $3`
	listings := []models.ScheduledListing{}
	err := r.db.SelectContext(ctx, &listings, query, now, category, limit)
	return listings, err
}
