package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/utils"
)

const (
	// CodeLength is the length of generated join codes.
	CodeLength = 6
	// maxCodeAttempts bounds regeneration on join code collisions.
	maxCodeAttempts = 5
	maxTitleLength  = 200
)

// Store is the persistence the lifecycle manager and REST handler need.
type Store interface {
	CreateSession(ctx context.Context, hostID uuid.UUID, title, code string) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*models.Session, error)
	ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Session, error)
	GetPresentParticipant(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
	IsBanned(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	InsertParticipant(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error)
	ListPresentParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error)
	ListChat(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error)
	GetWhiteboard(ctx context.Context, sessionID uuid.UUID) (*models.Whiteboard, error)
	FinalizeSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, credits map[uuid.UUID]int) (bool, error)
}

// Credit is the study time granted to one participant when a session ends.
type Credit struct {
	UserID  uuid.UUID `json:"userId"`
	Minutes int       `json:"minutes"`
}

// EndResult describes a successfully ended session.
type EndResult struct {
	Session *models.Session `json:"session"`
	Credits []Credit        `json:"credits"`
}

// RoomNotifier pushes REST-side changes into the live room.
type RoomNotifier interface {
	// SessionEnded notifies the room, then disconnects everyone.
	SessionEnded(ctx context.Context, result EndResult)
	// WhiteboardReplaced shows content saved outside the room to every connection.
	WhiteboardReplaced(sessionID, userID uuid.UUID, content json.RawMessage)
}

// ActivityRecorder accepts audit entries.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, entry models.ActivityLog) error
}

// Manager creates, joins and ends sessions.
type Manager struct {
	store    Store
	notifier RoomNotifier
	activity ActivityRecorder
	logger   *zap.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

// NewManager creates a lifecycle manager. notifier and activity may be nil.
func NewManager(store Store, notifier RoomNotifier, activity ActivityRecorder, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		activity: activity,
		logger:   logger,
		now:      time.Now,
		newCode:  func() (string, error) { return utils.JoinCode(CodeLength) },
	}
}

// CreateSession creates the session, its whiteboard and the host participant as one unit.
func (m *Manager) CreateSession(ctx context.Context, hostID uuid.UUID, title string) (*models.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
		return nil, ErrInvalidTitle
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := m.newCode()
		if err != nil {
			return nil, err
		}
		s, err := m.store.CreateSession(ctx, hostID, title, code)
		if errors.Is(err, ErrCodeTaken) {
			m.logger.Debug("join code collision, regenerating", zap.String("code", code))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		m.logger.Info("session created",
			zap.String("session_id", s.ID.String()),
			zap.String("host_user_id", hostID.String()),
		)
		return s, nil
	}
	return nil, fmt.Errorf("create session: %w after %d attempts", ErrCodeTaken, maxCodeAttempts)
}

// Join returns the caller's present participant row, creating it if needed.
// Banned users and ended sessions are rejected.
func (m *Manager) Join(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive {
		return nil, ErrSessionEnded
	}
	banned, err := m.store.IsBanned(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return nil, ErrBanned
	}
	p, err := m.store.GetPresentParticipant(ctx, sessionID, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	role := models.ParticipantRoleMember
	if s.IsHost(userID) {
		role = models.ParticipantRoleHost
	}
	return m.store.InsertParticipant(ctx, sessionID, userID, role)
}

// JoinByCode resolves a join code and joins that session.
func (m *Manager) JoinByCode(ctx context.Context, code string, userID uuid.UUID) (*models.Session, *models.Participant, error) {
	s, err := m.store.GetSessionByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, nil, err
	}
	p, err := m.Join(ctx, s.ID, userID)
	if err != nil {
		return nil, nil, err
	}
	return s, p, nil
}

// EndSession ends an active session. Only the host may end it. When concentration mode is on,
// every present participant is credited with their effective focus minutes.
func (m *Manager) EndSession(ctx context.Context, sessionID, callerID uuid.UUID) (*EndResult, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsHost(callerID) {
		return nil, ErrNotHost
	}
	if !s.IsActive {
		return nil, ErrSessionEnded
	}

	present, err := m.store.ListPresentParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	endedAt := m.now().UTC()
	credits := make(map[uuid.UUID]int)
	var creditList []Credit
	if s.ConcentrationMode {
		for i := range present {
			p := &present[i].Participant
			minutes := ParticipantCredit(p, endedAt)
			credits[p.UserID] += minutes
			creditList = append(creditList, Credit{UserID: p.UserID, Minutes: minutes})
		}
	}

	ended, err := m.store.FinalizeSession(ctx, sessionID, endedAt, credits)
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}
	if !ended {
		return nil, ErrSessionEnded
	}

	s.IsActive = false
	s.EndedAt = &endedAt
	result := EndResult{Session: s, Credits: creditList}

	m.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.Bool("concentration_mode", s.ConcentrationMode),
		zap.Int("participants", len(present)),
	)
	m.record(ctx, sessionID, callerID, map[string]any{"participants": len(present), "credits": creditList})
	if m.notifier != nil {
		m.notifier.SessionEnded(ctx, result)
	}
	return &result, nil
}

// AnnounceWhiteboard tells the live room about whiteboard content saved over REST.
func (m *Manager) AnnounceWhiteboard(sessionID, userID uuid.UUID, content json.RawMessage) {
	if m.notifier != nil {
		m.notifier.WhiteboardReplaced(sessionID, userID, content)
	}
}

func (m *Manager) record(ctx context.Context, sessionID, userID uuid.UUID, meta map[string]any) {
	if m.activity == nil {
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = nil
	}
	entry := models.ActivityLog{
		SessionID:    sessionID,
		UserID:       userID,
		ActivityType: models.ActivitySessionEnded,
		Metadata:     raw,
	}
	if err := m.activity.RecordActivity(ctx, entry); err != nil {
		m.logger.Warn("record activity failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}
