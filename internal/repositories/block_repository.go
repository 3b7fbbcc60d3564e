package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// BlockRepo reads the externally maintained user_blocks table.
type BlockRepo struct {
	db *sqlx.DB
}

// NewBlockRepo constructs a BlockRepo.
func NewBlockRepo(db *sqlx.DB) *BlockRepo {
	return &BlockRepo{db: db}
}

// BlockedUserIDs returns users hidden from userID: everyone they blocked and
// everyone who blocked them.
func (r *BlockRepo) BlockedUserIDs(ctx context.Context, userID int) ([]int, error) {
	ids := []int{}
	err := r.db.SelectContext(ctx, &ids, `SELECT blocked_id FROM user_blocks WHERE blocker_id=$1
        UNION
        SELECT blocker_id FROM user_blocks WHERE blocked_id=$1`, userID)
	return ids, err
}
