package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"wave-service/internal/models"
)

var (
	ErrWaveNotFound   = errors.New("wave not found")
	ErrWaveExpired    = errors.New("wave expired")
	ErrWaveUnlocked   = errors.New("wave already unlocked")
	ErrUnlockConflict = errors.New("concurrent unlock conflict")
)

// BoundingBox is a coarse lat/lng rectangle used to prefilter proximity
// queries. Longitude filtering is skipped when SkipLongitude is set, which
// happens near the poles and across the antimeridian.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
	SkipLongitude  bool
}

// WaveQuery filters the recent-waves listing.
type WaveQuery struct {
	ViewerID        int
	Now             time.Time
	ActivityType    string
	ExcludeCreators []int
	Bounds          *BoundingBox
	Limit           int
}

// JoinOutcome describes the state of a wave right after a join attempt.
type JoinOutcome struct {
	Inserted         bool
	ParticipantCount int
	Threshold        int
	IsUnlocked       bool
	CrewID           *int
}

// UnlockOutcome describes the result of an unlock attempt.
type UnlockOutcome struct {
	CrewID  *int
	Created bool
}

// WaveRepository abstracts wave persistence.
type WaveRepository interface {
	CreateWithCreator(ctx context.Context, wave models.Wave) (models.Wave, error)
	GetWave(ctx context.Context, waveID int, viewerID int) (models.WaveWithCount, error)
	AddParticipant(ctx context.Context, waveID int, userID int, now time.Time) (JoinOutcome, error)
	Unlock(ctx context.Context, waveID int) (UnlockOutcome, error)
	ListRecent(ctx context.Context, q WaveQuery) ([]models.WaveWithCount, error)
	DeleteOpenWave(ctx context.Context, waveID int, creatorID int) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// WaveRepo is a sqlx implementation of WaveRepository.
type WaveRepo struct {
	db *sqlx.DB
}

// NewWaveRepo constructs a WaveRepo.
func NewWaveRepo(db *sqlx.DB) *WaveRepo {
	return &WaveRepo{db: db}
}

const waveColumns = `w.id, w.creator_id, w.activity_type, w.area, w.thought, w.location_name, w.latitude, w.longitude,
        w.scheduled_for, w.threshold, w.is_unlocked, w.crew_id, w.started_at, w.expires_at`

// CreateWithCreator inserts the wave and its creator participant atomically.
func (r *WaveRepo) CreateWithCreator(ctx context.Context, wave models.Wave) (models.Wave, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Wave{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var created models.Wave
	err = tx.QueryRowxContext(ctx, `INSERT INTO waves (creator_id, activity_type, area, thought, location_name, latitude, longitude, scheduled_for, threshold, started_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, creator_id, activity_type, area, thought, location_name, latitude, longitude, scheduled_for, threshold, is_unlocked, crew_id, started_at, expires_at`,
		wave.CreatorID, wave.ActivityType, wave.Area, wave.Thought, wave.LocationName, wave.Latitude, wave.Longitude,
		wave.ScheduledFor, wave.Threshold, wave.StartedAt, wave.ExpiresAt).StructScan(&created)
	if err != nil {
		return models.Wave{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO wave_participants (wave_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		created.ID, created.CreatorID, created.StartedAt); err != nil {
		return models.Wave{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Wave{}, err
	}
	return created, nil
}

// GetWave fetches one wave with its participant count and whether viewerID joined it.
func (r *WaveRepo) GetWave(ctx context.Context, waveID int, viewerID int) (models.WaveWithCount, error) {
	var wave models.WaveWithCount
	query := `SELECT ` + waveColumns + `,
        (SELECT COUNT(*) FROM wave_participants p WHERE p.wave_id = w.id) AS participant_count,
        EXISTS(SELECT 1 FROM wave_participants p WHERE p.wave_id = w.id AND p.user_id = $2) AS joined
        FROM waves w WHERE w.id = $1`
	err := r.db.GetContext(ctx, &wave, query, waveID, viewerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WaveWithCount{}, ErrWaveNotFound
	}
	return wave, err
}

// AddParticipant idempotently inserts a participant row. The wave row is held
// FOR SHARE so a concurrent Unlock (FOR UPDATE) cannot interleave: a join
// either lands before the crew is formed or observes the wave as unlocked.
func (r *WaveRepo) AddParticipant(ctx context.Context, waveID int, userID int, now time.Time) (JoinOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return JoinOutcome{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var state struct {
		Threshold  int       `db:"threshold"`
		IsUnlocked bool      `db:"is_unlocked"`
		CrewID     *int      `db:"crew_id"`
		ExpiresAt  time.Time `db:"expires_at"`
	}
	err = tx.GetContext(ctx, &state, `SELECT threshold, is_unlocked, crew_id, expires_at FROM waves WHERE id=$1 FOR SHARE`, waveID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrWaveNotFound
		return JoinOutcome{}, err
	}
	if err != nil {
		return JoinOutcome{}, err
	}

	var already bool
	if err = tx.GetContext(ctx, &already, `SELECT EXISTS(SELECT 1 FROM wave_participants WHERE wave_id=$1 AND user_id=$2)`, waveID, userID); err != nil {
		return JoinOutcome{}, err
	}

	outcome := JoinOutcome{Threshold: state.Threshold, IsUnlocked: state.IsUnlocked, CrewID: state.CrewID}
	if !already {
		if !state.ExpiresAt.After(now) {
			err = ErrWaveExpired
			return JoinOutcome{}, err
		}
		if state.IsUnlocked {
			err = ErrWaveUnlocked
			return JoinOutcome{}, err
		}
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO wave_participants (wave_id, user_id, joined_at) VALUES ($1, $2, $3)
            ON CONFLICT (wave_id, user_id) DO NOTHING`, waveID, userID, now)
		if err != nil {
			return JoinOutcome{}, err
		}
		var affected int64
		if affected, err = res.RowsAffected(); err != nil {
			return JoinOutcome{}, err
		}
		outcome.Inserted = affected > 0
	}

	if err = tx.GetContext(ctx, &outcome.ParticipantCount, `SELECT COUNT(*) FROM wave_participants WHERE wave_id=$1`, waveID); err != nil {
		return JoinOutcome{}, err
	}

	if err = tx.Commit(); err != nil {
		return JoinOutcome{}, err
	}
	return outcome, nil
}

// Unlock performs the OPEN -> UNLOCKED transition for a wave whose
// participant count has reached its threshold. This is the single place that
// needs strong consistency: the wave row is locked FOR UPDATE, the count is
// re-read under the lock, and the final write is conditional on
// is_unlocked = FALSE, so at most one crew is ever created per wave.
func (r *WaveRepo) Unlock(ctx context.Context, waveID int) (UnlockOutcome, error) {
	outcome, err := r.unlock(ctx, waveID)
	if errors.Is(err, ErrUnlockConflict) {
		return UnlockOutcome{}, err
	}
	if isRetryableConflict(err) {
		return UnlockOutcome{}, fmt.Errorf("%w: %v", ErrUnlockConflict, err)
	}
	return outcome, err
}

func (r *WaveRepo) unlock(ctx context.Context, waveID int) (UnlockOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return UnlockOutcome{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var wave models.Wave
	err = tx.GetContext(ctx, &wave, `SELECT `+waveColumns+` FROM waves w WHERE w.id=$1 FOR UPDATE`, waveID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrWaveNotFound
		return UnlockOutcome{}, err
	}
	if err != nil {
		return UnlockOutcome{}, err
	}
	if wave.IsUnlocked {
		err = tx.Commit()
		return UnlockOutcome{CrewID: wave.CrewID}, err
	}

	var count int
	if err = tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM wave_participants WHERE wave_id=$1`, waveID); err != nil {
		return UnlockOutcome{}, err
	}
	if count < wave.Threshold {
		err = tx.Commit()
		return UnlockOutcome{}, err
	}

	var crewID int
	err = tx.QueryRowxContext(ctx, `INSERT INTO crews (wave_id, creator_id, activity_type, area, thought, location_name, scheduled_for)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		wave.ID, wave.CreatorID, wave.ActivityType, wave.Area, wave.Thought, wave.LocationName, wave.ScheduledFor).Scan(&crewID)
	if err != nil {
		return UnlockOutcome{}, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO crew_members (crew_id, user_id, joined_at)
        SELECT $1, user_id, joined_at FROM wave_participants WHERE wave_id=$2`, crewID, waveID); err != nil {
		return UnlockOutcome{}, err
	}

	var res sql.Result
	res, err = tx.ExecContext(ctx, `UPDATE waves SET is_unlocked = TRUE, crew_id = $2 WHERE id = $1 AND is_unlocked = FALSE`, waveID, crewID)
	if err != nil {
		return UnlockOutcome{}, err
	}
	var affected int64
	if affected, err = res.RowsAffected(); err != nil {
		return UnlockOutcome{}, err
	}
	if affected == 0 {
		err = ErrUnlockConflict
		return UnlockOutcome{}, err
	}

	if err = tx.Commit(); err != nil {
		return UnlockOutcome{}, err
	}
	return UnlockOutcome{CrewID: &crewID, Created: true}, nil
}

// ListRecent returns unexpired waves newest first.
func (r *WaveRepo) ListRecent(ctx context.Context, q WaveQuery) ([]models.WaveWithCount, error) {
	args := []any{q.Now, q.ViewerID}
	conds := []string{"w.expires_at > $1"}

	if q.ActivityType != "" {
		args = append(args, q.ActivityType)
		conds = append(conds, fmt.Sprintf("w.activity_type = $%d", len(args)))
	}
	if len(q.ExcludeCreators) > 0 {
		args = append(args, pq.Array(q.ExcludeCreators))
		conds = append(conds, fmt.Sprintf("NOT (w.creator_id = ANY($%d))", len(args)))
	}
	if b := q.Bounds; b != nil {
		args = append(args, b.MinLat, b.MaxLat)
		box := fmt.Sprintf("w.latitude BETWEEN $%d AND $%d", len(args)-1, len(args))
		if !b.SkipLongitude {
			args = append(args, b.MinLng, b.MaxLng)
			box += fmt.Sprintf(" AND w.longitude BETWEEN $%d AND $%d", len(args)-1, len(args))
		}
		conds = append(conds, "(w.latitude IS NULL OR w.longitude IS NULL OR ("+box+"))")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := `SELECT ` + waveColumns + `,
        (SELECT COUNT(*) FROM wave_participants p WHERE p.wave_id = w.id) AS participant_count,
        EXISTS(SELECT 1 FROM wave_participants p WHERE p.wave_id = w.id AND p.user_id = $2) AS joined
        FROM waves w
        WHERE ` + strings.Join(conds, " AND ") + `
        ORDER BY w.started_at DESC, w.id DESC
        LIMIT $` + fmt.Sprint(len(args))

	var waves []models.WaveWithCount
	err := r.db.SelectContext(ctx, &waves, query, args...)
	return waves, err
}

// DeleteOpenWave removes a wave owned by creatorID that has not unlocked.
func (r *WaveRepo) DeleteOpenWave(ctx context.Context, waveID int, creatorID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waves WHERE id=$1 AND creator_id=$2 AND is_unlocked = FALSE`, waveID, creatorID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrWaveNotFound
	}
	return nil
}

// PurgeExpired deletes waves that expired before the given instant. Crews
// formed from them keep their denormalized context.
func (r *WaveRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waves WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isRetryableConflict reports Postgres serialization failures, deadlocks and
// the unique crew-per-wave violation, all of which the caller may retry.
func isRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnlockConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return false
}
