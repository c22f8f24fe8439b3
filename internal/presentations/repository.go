package presentations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectura/studyroom/internal/models"
)

const presentationColumns = `id, session_id, uploaded_by, file_name, file_url, file_type, current_page, is_active, created_at`

// Repository persists presentations and their editor grants.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presentations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanPresentation(row pgx.Row) (*models.Presentation, error) {
	var p models.Presentation
	err := row.Scan(&p.ID, &p.SessionID, &p.UploadedBy, &p.FileName, &p.FileURL, &p.FileType, &p.CurrentPage, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePresentation inserts p and its initial editors. ID and CreatedAt are filled from the database.
func (r *Repository) CreatePresentation(ctx context.Context, p *models.Presentation, editors []uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	err = tx.QueryRow(ctx, `INSERT INTO session_presentations (session_id, uploaded_by, file_name, file_url, file_type, current_page, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		p.SessionID, p.UploadedBy, p.FileName, p.FileURL, p.FileType, p.CurrentPage, p.IsActive).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert presentation: %w", err)
	}

	batch := &pgx.Batch{}
	for _, userID := range editors {
		if userID == uuid.Nil || userID == p.UploadedBy {
			continue
		}
		batch.Queue(`INSERT INTO presentation_editors (presentation_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, p.ID, userID)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert editors: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetPresentation returns a presentation by id.
func (r *Repository) GetPresentation(ctx context.Context, id uuid.UUID) (*models.Presentation, error) {
	return scanPresentation(r.pool.QueryRow(ctx,
		`SELECT `+presentationColumns+` FROM session_presentations WHERE id = $1`, id))
}

// ListBySession returns a session's presentations, oldest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Presentation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+presentationColumns+` FROM session_presentations
		WHERE session_id = $1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Presentation
	for rows.Next() {
		p, err := scanPresentation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// ListEditors returns the user ids granted edit rights.
func (r *Repository) ListEditors(ctx context.Context, presentationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM presentation_editors WHERE presentation_id = $1 ORDER BY granted_at`, presentationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsPresentationEditor reports whether userID holds an editor grant.
func (r *Repository) IsPresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM presentation_editors WHERE presentation_id = $1 AND user_id = $2)`,
		presentationID, userID).Scan(&ok)
	return ok, err
}

// SetPresentationPage moves the shared page.
func (r *Repository) SetPresentationPage(ctx context.Context, id uuid.UUID, page int) error {
	tag, err := r.pool.Exec(ctx, `UPDATE session_presentations SET current_page = $2 WHERE id = $1`, id, page)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetPresentationActive shows or hides a presentation. Activating one hides the session's others.
func (r *Repository) SetPresentationActive(ctx context.Context, id uuid.UUID, active bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if active {
		if _, err := tx.Exec(ctx, `UPDATE session_presentations SET is_active = FALSE
			WHERE session_id = (SELECT session_id FROM session_presentations WHERE id = $1) AND id <> $1 AND is_active`, id); err != nil {
			return fmt.Errorf("deactivate others: %w", err)
		}
	}
	tag, err := tx.Exec(ctx, `UPDATE session_presentations SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return tx.Commit(ctx)
}

// GrantPresentationEditor adds an editor grant; granting twice is a no-op.
func (r *Repository) GrantPresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO presentation_editors (presentation_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, presentationID, userID)
	return err
}

// RevokePresentationEditor removes an editor grant.
func (r *Repository) RevokePresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM presentation_editors WHERE presentation_id = $1 AND user_id = $2`, presentationID, userID)
	return err
}
