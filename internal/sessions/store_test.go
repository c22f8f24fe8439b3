package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectura/studyroom/internal/models"
)

// memStore is an in-memory Store with the same present-row uniqueness the database index enforces.
type memStore struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.Session
	participants []*models.Participant
	stats        map[uuid.UUID]int
	whiteboards  map[uuid.UUID]*models.Whiteboard
	chat         []models.ChatMessage
	names        map[uuid.UUID]string
	takenCodes   map[string]bool
	finalizeErr  error
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    map[uuid.UUID]*models.Session{},
		stats:       map[uuid.UUID]int{},
		whiteboards: map[uuid.UUID]*models.Whiteboard{},
		names:       map[uuid.UUID]string{},
		takenCodes:  map[string]bool{},
	}
}

func (m *memStore) CreateSession(_ context.Context, hostID uuid.UUID, title, code string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.takenCodes[code] {
		return nil, ErrCodeTaken
	}
	m.takenCodes[code] = true
	s := &models.Session{ID: uuid.New(), Title: title, SessionCode: code, HostUserID: hostID, IsActive: true, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	m.whiteboards[s.ID] = &models.Whiteboard{ID: uuid.New(), SessionID: s.ID, Content: models.EmptyContent}
	m.participants = append(m.participants, &models.Participant{
		ID: uuid.New(), SessionID: s.ID, UserID: hostID, Role: models.ParticipantRoleHost, JoinedAt: time.Now(),
	})
	cp := *s
	return &cp, nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetSessionByCode(_ context.Context, code string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.SessionCode == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memStore) ListSessionsForUser(_ context.Context, userID uuid.UUID) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []models.Session
	for _, p := range m.participants {
		if p.UserID == userID && !seen[p.SessionID] {
			seen[p.SessionID] = true
			out = append(out, *m.sessions[p.SessionID])
		}
	}
	return out, nil
}

func (m *memStore) presentLocked(sessionID, userID uuid.UUID) *models.Participant {
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID && p.LeftAt == nil {
			return p
		}
	}
	return nil
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

func (m *memStore) IsBanned(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID && p.IsBanned {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	banned, _ := m.IsBanned(ctx, sessionID, userID)
	if banned {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertParticipant(_ context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole) (*models.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.presentLocked(sessionID, userID); p != nil {
		cp := *p
		return &cp, nil
	}
	p := &models.Participant{ID: uuid.New(), SessionID: sessionID, UserID: userID, Role: role, JoinedAt: time.Now()}
	m.participants = append(m.participants, p)
	cp := *p
	return &cp, nil
}

func (m *memStore) profiles(sessionID uuid.UUID, presentOnly bool) []models.ParticipantProfile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ParticipantProfile
	for _, p := range m.participants {
		if p.SessionID != sessionID || (presentOnly && p.LeftAt != nil) {
			continue
		}
		out = append(out, models.ParticipantProfile{Participant: *p, FullName: m.names[p.UserID]})
	}
	return out
}

func (m *memStore) ListPresentParticipants(_ context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error) {
	return m.profiles(sessionID, true), nil
}

func (m *memStore) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error) {
	return m.profiles(sessionID, false), nil
}

func (m *memStore) ListChat(_ context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChatMessage
	for _, msg := range m.chat {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) GetWhiteboard(_ context.Context, sessionID uuid.UUID) (*models.Whiteboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wb, ok := m.whiteboards[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *wb
	return &cp, nil
}

func (m *memStore) FinalizeSession(_ context.Context, sessionID uuid.UUID, endedAt time.Time, credits map[uuid.UUID]int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return false, m.finalizeErr
	}
	s := m.sessions[sessionID]
	if s == nil || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.EndedAt = &endedAt
	for userID, minutes := range credits {
		if minutes > 0 {
			m.stats[userID] += minutes
		}
	}
	for _, p := range m.participants {
		if p.SessionID == sessionID && p.LeftAt == nil {
			t := endedAt
			p.LeftAt = &t
		}
	}
	return true, nil
}

// leave and kick mirror the realtime repository paths used by the property test.
func (m *memStore) leave(sessionID, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.presentLocked(sessionID, userID); p != nil {
		now := time.Now()
		p.LeftAt = &now
		return true
	}
	return false
}

func (m *memStore) kick(sessionID, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.presentLocked(sessionID, userID); p != nil {
		now := time.Now()
		p.LeftAt = &now
		p.IsBanned = true
		return true
	}
	return false
}

// presentCounts returns, per (session,user), the number of rows with no leftAt.
func (m *memStore) presentCounts() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[[2]uuid.UUID]int{}
	for _, p := range m.participants {
		if p.LeftAt == nil {
			counts[[2]uuid.UUID{p.SessionID, p.UserID}]++
		}
	}
	out := make([]int, 0, len(counts))
	for _, n := range counts {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// setParticipant lets a test fabricate a timeline for a present participant.
func (m *memStore) setParticipant(sessionID, userID uuid.UUID, fn func(p *models.Participant)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.presentLocked(sessionID, userID); p != nil {
		fn(p)
	}
}

func (m *memStore) setConcentration(sessionID uuid.UUID, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID].ConcentrationMode = on
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []EndResult
	boards  []json.RawMessage
}

func (n *recordingNotifier) WhiteboardReplaced(_, _ uuid.UUID, content json.RawMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boards = append(n.boards, content)
}

func (n *recordingNotifier) SessionEnded(_ context.Context, r EndResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, r)
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
