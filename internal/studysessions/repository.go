package studysessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectura/studyroom/internal/models"
)

const studyColumns = `id, user_id, started_at, ended_at, tab_switches, break_seconds, credited_minutes`

// Repository persists solo study sessions and the per-user study total.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a study sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanStudy(row pgx.Row) (*models.StudySession, error) {
	var s models.StudySession
	err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.TabSwitches, &s.BreakSeconds, &s.CreditedMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new running study session for userID.
func (r *Repository) Create(ctx context.Context, userID uuid.UUID, startedAt time.Time) (*models.StudySession, error) {
	return scanStudy(r.pool.QueryRow(ctx, `INSERT INTO solo_study_sessions (user_id, started_at)
		VALUES ($1, $2) RETURNING `+studyColumns, userID, startedAt))
}

// Get returns userID's study session by id.
func (r *Repository) Get(ctx context.Context, id, userID uuid.UUID) (*models.StudySession, error) {
	return scanStudy(r.pool.QueryRow(ctx,
		`SELECT `+studyColumns+` FROM solo_study_sessions WHERE id = $1 AND user_id = $2`, id, userID))
}

// GetRunning returns userID's study session that has not ended.
func (r *Repository) GetRunning(ctx context.Context, userID uuid.UUID) (*models.StudySession, error) {
	return scanStudy(r.pool.QueryRow(ctx, `SELECT `+studyColumns+` FROM solo_study_sessions
		WHERE user_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`, userID))
}

// UpdateCounters stores the client-reported totals on a running session.
func (r *Repository) UpdateCounters(ctx context.Context, id uuid.UUID, tabSwitches, breakSeconds int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE solo_study_sessions SET tab_switches = $2, break_seconds = $3
		WHERE id = $1 AND ended_at IS NULL`, id, tabSwitches, breakSeconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyEnded
	}
	return nil
}

// Finish ends the session and adds minutes to the user's total in one transaction.
// It returns ErrAlreadyEnded when another request finished it first.
func (r *Repository) Finish(ctx context.Context, id uuid.UUID, endedAt time.Time, minutes int) (*models.StudySession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s, err := scanStudy(tx.QueryRow(ctx, `UPDATE solo_study_sessions SET ended_at = $2, credited_minutes = $3
		WHERE id = $1 AND ended_at IS NULL RETURNING `+studyColumns, id, endedAt, minutes))
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrAlreadyEnded
	}
	if err != nil {
		return nil, fmt.Errorf("end study session: %w", err)
	}
	if minutes > 0 {
		if _, err := tx.Exec(ctx, `INSERT INTO user_study_stats (user_id, total_study_minutes) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET total_study_minutes = user_study_stats.total_study_minutes + EXCLUDED.total_study_minutes,
			    updated_at = NOW()`, s.UserID, minutes); err != nil {
			return nil, fmt.Errorf("credit study minutes: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// GetStats returns userID's cumulative study total; users with no credit yet get zero.
func (r *Repository) GetStats(ctx context.Context, userID uuid.UUID) (*models.StudyStats, error) {
	st := models.StudyStats{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT total_study_minutes, updated_at FROM user_study_stats WHERE user_id = $1`, userID).
		Scan(&st.TotalStudyMinutes, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
