package studysessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/internal/sessions"
)

// MaxDuration caps the elapsed time a single solo session can be credited for.
const MaxDuration = 12 * time.Hour

var (
	// ErrAlreadyEnded is returned when updating a finished study session.
	ErrAlreadyEnded = errors.New("study session already ended")
	// ErrInvalidCounters is returned for negative counters or counters that go backwards.
	ErrInvalidCounters = errors.New("tabSwitches and breakSeconds must be non-negative and non-decreasing")
)

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, userID uuid.UUID, startedAt time.Time) (*models.StudySession, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.StudySession, error)
	GetRunning(ctx context.Context, userID uuid.UUID) (*models.StudySession, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, tabSwitches, breakSeconds int) error
	Finish(ctx context.Context, id uuid.UUID, endedAt time.Time, minutes int) (*models.StudySession, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*models.StudyStats, error)
}

// Update is a PATCH to a running study session. Counters are totals, not increments.
type Update struct {
	TabSwitches  *int `json:"tabSwitches"`
	BreakSeconds *int `json:"breakSeconds"`
	End          bool `json:"end"`
}

// Service tracks solo focus sessions and credits them with the same rule as group sessions.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a study session service.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Start begins a new session for userID, finishing (and crediting) any session still running.
func (s *Service) Start(ctx context.Context, userID uuid.UUID) (*models.StudySession, error) {
	running, err := s.store.GetRunning(ctx, userID)
	switch {
	case err == nil:
		if _, err := s.finish(ctx, running); err != nil && !errors.Is(err, ErrAlreadyEnded) {
			return nil, fmt.Errorf("close previous session: %w", err)
		}
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("load running session: %w", err)
	}
	return s.store.Create(ctx, userID, s.now().UTC())
}

// Apply stores new counters and, when asked, ends the session.
func (s *Service) Apply(ctx context.Context, userID, id uuid.UUID, u Update) (*models.StudySession, error) {
	cur, err := s.store.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if cur.EndedAt != nil {
		return nil, ErrAlreadyEnded
	}
	tabs, breaks := cur.TabSwitches, cur.BreakSeconds
	if u.TabSwitches != nil {
		tabs = *u.TabSwitches
	}
	if u.BreakSeconds != nil {
		breaks = *u.BreakSeconds
	}
	if tabs < cur.TabSwitches || breaks < cur.BreakSeconds {
		return nil, ErrInvalidCounters
	}
	if tabs != cur.TabSwitches || breaks != cur.BreakSeconds {
		if err := s.store.UpdateCounters(ctx, id, tabs, breaks); err != nil {
			return nil, err
		}
		cur.TabSwitches, cur.BreakSeconds = tabs, breaks
	}
	if !u.End {
		return cur, nil
	}
	return s.finish(ctx, cur)
}

func (s *Service) finish(ctx context.Context, cur *models.StudySession) (*models.StudySession, error) {
	end := s.now().UTC()
	elapsed := end.Sub(cur.StartedAt)
	if elapsed > MaxDuration {
		elapsed = MaxDuration
	}
	minutes := sessions.EffectiveMinutes(elapsed, cur.BreakSeconds, cur.TabSwitches)
	done, err := s.store.Finish(ctx, cur.ID, end, minutes)
	if err != nil {
		return nil, err
	}
	s.logger.Info("study session finished",
		zap.String("study_session_id", cur.ID.String()),
		zap.String("user_id", cur.UserID.String()),
		zap.Int("credited_minutes", minutes),
	)
	return done, nil
}

// Stats returns the user's cumulative credited minutes.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*models.StudyStats, error) {
	return s.store.GetStats(ctx, userID)
}
