package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectura/studyroom/internal/models"
)

// Repository handles session_activity_logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activity log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordActivity inserts one entry. Replaying the same entry id is a no-op, so queue retries are safe.
func (r *Repository) RecordActivity(ctx context.Context, e models.ActivityLog) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	meta := []byte(e.Metadata)
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_activity_logs (id, session_id, user_id, activity_type, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SessionID, e.UserID, e.ActivityType, meta, e.CreatedAt)
	return err
}

// ListBySession returns up to limit entries for a session, newest first, optionally only those before a time.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ActivityLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, user_id, activity_type, metadata, created_at
		 FROM session_activity_logs
		 WHERE session_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		 ORDER BY created_at DESC LIMIT $3`,
		sessionID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ActivityLog
	for rows.Next() {
		var e models.ActivityLog
		var meta []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.ActivityType, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = json.RawMessage(meta)
		list = append(list, e)
	}
	return list, rows.Err()
}
