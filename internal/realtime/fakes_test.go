package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lectura/studyroom/internal/models"
)

// fakePeer records everything sent to it. limit > 0 simulates a bounded send buffer.
type fakePeer struct {
	id    string
	user  uuid.UUID
	name  string
	limit int

	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	code   int
}

func newPeer(user uuid.UUID, name string) *fakePeer {
	return &fakePeer{id: uuid.NewString(), user: user, name: name}
}

func (p *fakePeer) ID() string          { return p.id }
func (p *fakePeer) UserID() uuid.UUID   { return p.user }
func (p *fakePeer) DisplayName() string { return p.name }

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if p.limit > 0 && len(p.msgs) >= p.limit {
		return ErrSendBufferFull
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePeer) Close(code int, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.code = code
	}
}

func (p *fakePeer) closeCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.closed
}

type received struct {
	Type      string          `json:"type"`
	SessionID uuid.UUID       `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

func (p *fakePeer) events(t *testing.T) []received {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]received, 0, len(p.msgs))
	for _, raw := range p.msgs {
		var ev received
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (p *fakePeer) ofType(t *testing.T, typ string) []received {
	t.Helper()
	var out []received
	for _, ev := range p.events(t) {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

// memStore is an in-memory Store plus WhiteboardSaver.
type memStore struct {
	mu            sync.Mutex
	sessions      map[uuid.UUID]*models.Session
	participants  []*models.Participant
	chat          []models.ChatMessage
	whiteboards   map[uuid.UUID]json.RawMessage
	saves         int
	presentations map[uuid.UUID]*models.Presentation
	editors       map[[2]uuid.UUID]bool
	failures      map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		sessions:      map[uuid.UUID]*models.Session{},
		whiteboards:   map[uuid.UUID]json.RawMessage{},
		presentations: map[uuid.UUID]*models.Presentation{},
		editors:       map[[2]uuid.UUID]bool{},
		failures:      map[string]error{},
	}
}

func (m *memStore) failOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *memStore) addSession(host uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.Session{ID: uuid.New(), Title: "Calculus", SessionCode: "ABC123", HostUserID: host, IsActive: true, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	m.whiteboards[s.ID] = models.EmptyContent
	m.participants = append(m.participants, &models.Participant{
		ID: uuid.New(), SessionID: s.ID, UserID: host, Role: models.ParticipantRoleHost, JoinedAt: time.Now(),
	})
	return s.ID
}

func (m *memStore) addMember(sessionID, user uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants = append(m.participants, &models.Participant{
		ID: uuid.New(), SessionID: sessionID, UserID: user, Role: models.ParticipantRoleMember, JoinedAt: time.Now(),
	})
}

func (m *memStore) endSession(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.sessions[sessionID].IsActive = false
	m.sessions[sessionID].EndedAt = &now
}

func (m *memStore) presentLocked(sessionID, userID uuid.UUID) *models.Participant {
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID && p.LeftAt == nil {
			return p
		}
	}
	return nil
}

func (m *memStore) byIDLocked(id uuid.UUID) *models.Participant {
	for _, p := range m.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m *memStore) participant(sessionID, userID uuid.UUID) *models.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.participants) - 1; i >= 0; i-- {
		p := m.participants[i]
		if p.SessionID == sessionID && p.UserID == userID {
			cp := *p
			return &cp
		}
	}
	return nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["GetSession"]; err != nil {
		return nil, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetPresentParticipant(_ context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.presentLocked(sessionID, userID); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, models.ErrNotFound
}

func (m *memStore) ListPresentParticipants(_ context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ParticipantProfile
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			out = append(out, models.ParticipantProfile{Participant: *p})
		}
	}
	return out, nil
}

func (m *memStore) MarkParticipantLeft(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["MarkParticipantLeft"]; err != nil {
		return false, err
	}
	p := m.presentLocked(sessionID, userID)
	if p == nil {
		return false, nil
	}
	now := time.Now()
	p.LeftAt = &now
	return true, nil
}

func (m *memStore) IncrementTabSwitches(_ context.Context, participantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byIDLocked(participantID)
	if p == nil {
		return 0, models.ErrNotFound
	}
	p.TabSwitches++
	return p.TabSwitches, nil
}

func (m *memStore) IncrementPauseCount(_ context.Context, participantID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byIDLocked(participantID)
	if p == nil {
		return 0, models.ErrNotFound
	}
	p.PauseCount++
	return p.PauseCount, nil
}

func (m *memStore) StartBreak(_ context.Context, participantID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byIDLocked(participantID)
	if p == nil {
		return models.ErrNotFound
	}
	p.IsOnBreak = true
	p.BreakStartTime = &at
	return nil
}

func (m *memStore) EndBreak(_ context.Context, participantID uuid.UUID, seconds int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.byIDLocked(participantID)
	if p == nil {
		return 0, models.ErrNotFound
	}
	p.IsOnBreak = false
	p.BreakStartTime = nil
	p.BreakDuration += seconds
	return p.BreakDuration, nil
}

func (m *memStore) ToggleMuted(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.presentLocked(sessionID, userID)
	if p == nil {
		return false, models.ErrNotFound
	}
	p.IsMuted = !p.IsMuted
	return p.IsMuted, nil
}

func (m *memStore) MuteAllExcept(_ context.Context, sessionID, exceptUserID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.LeftAt == nil && p.UserID != exceptUserID && !p.IsMuted {
			p.IsMuted = true
			n++
		}
	}
	return n, nil
}

func (m *memStore) KickParticipant(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Participant
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID {
			latest = p
		}
	}
	if latest == nil {
		return false, nil
	}
	if latest.LeftAt == nil {
		now := time.Now()
		latest.LeftAt = &now
	}
	latest.IsBanned = true
	latest.IsOnBreak = false
	latest.BreakStartTime = nil
	return true, nil
}

func (m *memStore) SetConcentrationMode(_ context.Context, sessionID uuid.UUID, enabled *bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || !s.IsActive {
		return false, models.ErrNotFound
	}
	if enabled != nil {
		s.ConcentrationMode = *enabled
	} else {
		s.ConcentrationMode = !s.ConcentrationMode
	}
	return s.ConcentrationMode, nil
}

func (m *memStore) InsertChatMessage(_ context.Context, msg *models.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["InsertChatMessage"]; err != nil {
		return err
	}
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now()
	m.chat = append(m.chat, *msg)
	return nil
}

func (m *memStore) GetWhiteboard(_ context.Context, sessionID uuid.UUID) (*models.Whiteboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.whiteboards[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.Whiteboard{SessionID: sessionID, Content: content}, nil
}

func (m *memStore) SaveWhiteboard(_ context.Context, sessionID uuid.UUID, content json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["SaveWhiteboard"]; err != nil {
		return err
	}
	m.whiteboards[sessionID] = content
	m.saves++
	return nil
}

func (m *memStore) board(sessionID uuid.UUID) (json.RawMessage, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.whiteboards[sessionID], m.saves
}

func (m *memStore) CreatePresentation(_ context.Context, p *models.Presentation, editors []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	cp := *p
	m.presentations[p.ID] = &cp
	for _, e := range editors {
		m.editors[[2]uuid.UUID{p.ID, e}] = true
	}
	return nil
}

func (m *memStore) GetPresentation(_ context.Context, id uuid.UUID) (*models.Presentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presentations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) IsPresentationEditor(_ context.Context, presentationID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editors[[2]uuid.UUID{presentationID, userID}], nil
}

func (m *memStore) SetPresentationPage(_ context.Context, id uuid.UUID, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presentations[id].CurrentPage = page
	return nil
}

func (m *memStore) SetPresentationActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.presentations[id]
	if active {
		for _, p := range m.presentations {
			if p.SessionID == target.SessionID {
				p.IsActive = false
			}
		}
	}
	target.IsActive = active
	return nil
}

func (m *memStore) GrantPresentationEditor(_ context.Context, presentationID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editors[[2]uuid.UUID{presentationID, userID}] = true
	return nil
}

func (m *memStore) RevokePresentationEditor(_ context.Context, presentationID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.editors, [2]uuid.UUID{presentationID, userID})
	return nil
}

type memActivity struct {
	mu      sync.Mutex
	entries []models.ActivityLog
}

func (a *memActivity) RecordActivity(_ context.Context, e models.ActivityLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memActivity) count(activityType string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, e := range a.entries {
		if e.ActivityType == activityType {
			n++
		}
	}
	return n
}

func frame(t *testing.T, typ string, sessionID uuid.UUID, data any) []byte {
	t.Helper()
	env := map[string]any{"type": typ, "sessionId": sessionID.String()}
	if data != nil {
		env["data"] = data
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}
