package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lectura/studyroom/internal/models"
)

const (
	sessionColumns = `id, title, session_code, host_user_id, is_active, concentration_mode, created_at, ended_at`

	participantColumns = `p.id, p.session_id, p.user_id, p.role, p.joined_at, p.left_at, p.tab_switches, p.pause_count,
		p.is_on_break, p.break_start_time, p.break_duration, p.is_muted, p.is_banned`

	pgUniqueViolation = "23505"
)

// Repository persists sessions, participants, whiteboards and room chat in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Title, &s.SessionCode, &s.HostUserID, &s.IsActive, &s.ConcentrationMode, &s.CreatedAt, &s.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func participantDest(p *models.Participant) []any {
	return []any{&p.ID, &p.SessionID, &p.UserID, &p.Role, &p.JoinedAt, &p.LeftAt, &p.TabSwitches, &p.PauseCount,
		&p.IsOnBreak, &p.BreakStartTime, &p.BreakDuration, &p.IsMuted, &p.IsBanned}
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(participantDest(&p)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// CreateSession inserts the session, its empty whiteboard and the host participant in one transaction.
func (r *Repository) CreateSession(ctx context.Context, hostID uuid.UUID, title, code string) (*models.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	s, err := scanSession(tx.QueryRow(ctx,
		`INSERT INTO sessions (title, session_code, host_user_id) VALUES ($1, $2, $3) RETURNING `+sessionColumns,
		title, code, hostID))
	if err != nil {
		if isUniqueViolation(err, "sessions_session_code_key") {
			return nil, ErrCodeTaken
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO session_whiteboards (session_id, content) VALUES ($1, $2)`, s.ID, []byte(models.EmptyContent)); err != nil {
		return nil, fmt.Errorf("insert whiteboard: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO session_participants (session_id, user_id, role) VALUES ($1, $2, $3)`,
		s.ID, hostID, models.ParticipantRoleHost); err != nil {
		return nil, fmt.Errorf("insert host participant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// GetSession returns a session by id.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetSessionByCode returns a session by its join code (case-insensitive).
func (r *Repository) GetSessionByCode(ctx context.Context, code string) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_code = upper($1)`, code))
}

// ListSessionsForUser returns sessions the user hosts or has joined, newest first.
func (r *Repository) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions s
		WHERE s.host_user_id = $1
		   OR EXISTS (SELECT 1 FROM session_participants p WHERE p.session_id = s.id AND p.user_id = $1)
		ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// GetPresentParticipant returns the caller's current (left_at IS NULL) participant row.
func (r *Repository) GetPresentParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	return scanParticipant(r.pool.QueryRow(ctx, `SELECT `+participantColumns+`
		FROM session_participants p WHERE p.session_id = $1 AND p.user_id = $2 AND p.left_at IS NULL`,
		sessionID, userID))
}

// IsBanned reports whether any participant row for the user in the session is banned.
func (r *Repository) IsBanned(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var banned bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2 AND is_banned)`,
		sessionID, userID).Scan(&banned)
	return banned, err
}

// IsMember reports whether the user hosts the session or has ever joined it without being banned.
func (r *Repository) IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT
		EXISTS (SELECT 1 FROM sessions WHERE id = $1 AND host_user_id = $2)
		OR (EXISTS (SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2)
		    AND NOT EXISTS (SELECT 1 FROM session_participants WHERE session_id = $1 AND user_id = $2 AND is_banned))`,
		sessionID, userID).Scan(&ok)
	return ok, err
}

// InsertParticipant adds a present participant row. When a concurrent join already created one,
// the existing row is returned instead.
func (r *Repository) InsertParticipant(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error) {
	p, err := scanParticipant(r.pool.QueryRow(ctx, `INSERT INTO session_participants AS p (session_id, user_id, role)
		VALUES ($1, $2, $3) RETURNING `+participantColumns, sessionID, userID, role))
	if isUniqueViolation(err, "participants_one_present_idx") {
		return r.GetPresentParticipant(ctx, sessionID, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert participant: %w", err)
	}
	return p, nil
}

func (r *Repository) listProfiles(ctx context.Context, sessionID uuid.UUID, presentOnly bool) ([]models.ParticipantProfile, error) {
	q := `SELECT ` + participantColumns + `, u.full_name
		FROM session_participants p JOIN users u ON u.id = p.user_id
		WHERE p.session_id = $1`
	if presentOnly {
		q += ` AND p.left_at IS NULL`
	}
	q += ` ORDER BY p.joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ParticipantProfile
	for rows.Next() {
		var pp models.ParticipantProfile
		if err := rows.Scan(append(participantDest(&pp.Participant), &pp.FullName)...); err != nil {
			return nil, err
		}
		list = append(list, pp)
	}
	return list, rows.Err()
}

// ListPresentParticipants returns currently present participants with display names.
func (r *Repository) ListPresentParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error) {
	return r.listProfiles(ctx, sessionID, true)
}

// ListParticipants returns every participant row of the session, including those who left.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error) {
	return r.listProfiles(ctx, sessionID, false)
}

// MarkParticipantLeft soft-deletes the present row. It reports false when nothing was present,
// which makes repeated leave paths no-ops.
func (r *Repository) MarkParticipantLeft(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE session_participants
		SET left_at = NOW(),
		    break_duration = break_duration + CASE WHEN is_on_break AND break_start_time IS NOT NULL
		        THEN GREATEST(0, EXTRACT(EPOCH FROM (NOW() - break_start_time))::INTEGER) ELSE 0 END,
		    is_on_break = FALSE, break_start_time = NULL
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL`, sessionID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementTabSwitches bumps the counter and returns the new value.
func (r *Repository) IncrementTabSwitches(ctx context.Context, participantID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`UPDATE session_participants SET tab_switches = tab_switches + 1 WHERE id = $1 RETURNING tab_switches`,
		participantID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	return n, err
}

// IncrementPauseCount bumps the pause counter and returns the new value.
func (r *Repository) IncrementPauseCount(ctx context.Context, participantID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`UPDATE session_participants SET pause_count = pause_count + 1 WHERE id = $1 RETURNING pause_count`,
		participantID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	return n, err
}

// StartBreak marks the participant on break from at.
func (r *Repository) StartBreak(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE session_participants SET is_on_break = TRUE, break_start_time = $2 WHERE id = $1`, participantID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EndBreak clears the break flag and adds seconds to the accumulated break duration.
// Returns the new accumulated total.
func (r *Repository) EndBreak(ctx context.Context, participantID uuid.UUID, seconds int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `UPDATE session_participants
		SET is_on_break = FALSE, break_start_time = NULL, break_duration = break_duration + $2
		WHERE id = $1 RETURNING break_duration`, participantID, seconds).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	return total, err
}

// ToggleMuted flips the present target's mute flag and returns the new value.
func (r *Repository) ToggleMuted(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var muted bool
	err := r.pool.QueryRow(ctx, `UPDATE session_participants SET is_muted = NOT is_muted
		WHERE session_id = $1 AND user_id = $2 AND left_at IS NULL RETURNING is_muted`,
		sessionID, userID).Scan(&muted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, models.ErrNotFound
	}
	return muted, err
}

// MuteAllExcept mutes every present participant other than exceptUserID.
func (r *Repository) MuteAllExcept(ctx context.Context, sessionID, exceptUserID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE session_participants SET is_muted = TRUE
		WHERE session_id = $1 AND user_id <> $2 AND left_at IS NULL`, sessionID, exceptUserID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// KickParticipant bans the user's latest row in the session and soft-deletes it if still present.
// A target who already dropped is banned all the same. It reports false when the user never joined.
func (r *Repository) KickParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE session_participants
		SET is_banned = TRUE,
			left_at = COALESCE(left_at, NOW()),
			is_on_break = FALSE,
			break_start_time = NULL
		WHERE id = (
			SELECT id FROM session_participants
			WHERE session_id = $1 AND user_id = $2
			ORDER BY joined_at DESC
			LIMIT 1
		)`, sessionID, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetConcentrationMode sets the flag, or flips it when enabled is nil, on an active session.
func (r *Repository) SetConcentrationMode(ctx context.Context, sessionID uuid.UUID, enabled *bool) (bool, error) {
	var on bool
	err := r.pool.QueryRow(ctx, `UPDATE sessions
		SET concentration_mode = COALESCE($2::boolean, NOT concentration_mode)
		WHERE id = $1 AND is_active RETURNING concentration_mode`, sessionID, enabled).Scan(&on)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrSessionEnded
	}
	return on, err
}

// InsertChatMessage appends a chat line; ID and CreatedAt are filled from the database.
func (r *Repository) InsertChatMessage(ctx context.Context, m *models.ChatMessage) error {
	return r.pool.QueryRow(ctx, `INSERT INTO session_chat_messages (session_id, user_id, content)
		VALUES ($1, $2, $3) RETURNING id, created_at`, m.SessionID, m.UserID, m.Content).Scan(&m.ID, &m.CreatedAt)
}

// ListChat returns the latest limit chat lines in chronological order.
func (r *Repository) ListChat(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `SELECT * FROM (
		SELECT m.id, m.session_id, m.user_id, u.full_name, m.content, m.created_at
		FROM session_chat_messages m JOIN users u ON u.id = m.user_id
		WHERE m.session_id = $1 ORDER BY m.created_at DESC LIMIT $2) t
		ORDER BY created_at`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.UserName, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// GetWhiteboard returns the last saved whiteboard.
func (r *Repository) GetWhiteboard(ctx context.Context, sessionID uuid.UUID) (*models.Whiteboard, error) {
	var w models.Whiteboard
	var content []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, session_id, content, last_saved_at FROM session_whiteboards WHERE session_id = $1`, sessionID).
		Scan(&w.ID, &w.SessionID, &content, &w.LastSavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.Content = json.RawMessage(content)
	return &w, nil
}

// SaveWhiteboard overwrites the whiteboard content.
func (r *Repository) SaveWhiteboard(ctx context.Context, sessionID uuid.UUID, content json.RawMessage) error {
	if len(content) == 0 {
		content = models.EmptyContent
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE session_whiteboards SET content = $2, last_saved_at = NOW() WHERE session_id = $1`,
		sessionID, []byte(content))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FinalizeSession ends the session, credits study minutes and closes out present participants
// in one transaction. It reports false when the session was already ended.
func (r *Repository) FinalizeSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, credits map[uuid.UUID]int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET is_active = FALSE, ended_at = $2 WHERE id = $1 AND is_active`, sessionID, endedAt)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	batch := &pgx.Batch{}
	for userID, minutes := range credits {
		if minutes <= 0 {
			continue
		}
		batch.Queue(`INSERT INTO user_study_stats (user_id, total_study_minutes) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE
			SET total_study_minutes = user_study_stats.total_study_minutes + EXCLUDED.total_study_minutes,
			    updated_at = NOW()`, userID, minutes)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, fmt.Errorf("credit study minutes: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE session_participants
		SET left_at = $2, is_on_break = FALSE, break_start_time = NULL
		WHERE session_id = $1 AND left_at IS NULL`, sessionID, endedAt); err != nil {
		return false, fmt.Errorf("close participants: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
