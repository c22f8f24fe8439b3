package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Peer is one live connection as the hub and router see it.
type Peer interface {
	ID() string
	UserID() uuid.UUID
	DisplayName() string
	// Send queues msg without blocking. It returns ErrPeerClosed or ErrSendBufferFull when refused.
	Send(msg []byte) error
	// Close asks the connection to shut down with a close frame. Safe to call repeatedly.
	Close(code int, reason string)
}

// Hub maintains session_id -> set of connections and the inverse mapping, and fans out messages.
// No I/O happens while the lock is held.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[string]Peer
	peers  map[string]uuid.UUID
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]Peer),
		peers:  make(map[string]uuid.UUID),
		logger: logger,
	}
}

// Admit adds p to a session room. A peer admitted elsewhere is moved.
func (h *Hub) Admit(sessionID uuid.UUID, p Peer) {
	h.mu.Lock()
	if prev, ok := h.peers[p.ID()]; ok && prev != sessionID {
		h.removeLocked(prev, p.ID())
	}
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]Peer)
		h.rooms[sessionID] = room
	}
	room[p.ID()] = p
	h.peers[p.ID()] = sessionID
	size := len(room)
	h.mu.Unlock()

	h.logger.Debug("peer admitted",
		zap.String("client_id", p.ID()),
		zap.String("session_id", sessionID.String()),
		zap.Int("room_size", size),
	)
}

// Evict removes p from its room. It reports the room and whether this call removed it;
// evicting an absent peer is a no-op returning false.
func (h *Hub) Evict(p Peer) (uuid.UUID, bool) {
	h.mu.Lock()
	sessionID, ok := h.peers[p.ID()]
	if ok {
		h.removeLocked(sessionID, p.ID())
	}
	h.mu.Unlock()
	if ok {
		h.logger.Debug("peer evicted", zap.String("client_id", p.ID()), zap.String("session_id", sessionID.String()))
	}
	return sessionID, ok
}

func (h *Hub) removeLocked(sessionID uuid.UUID, peerID string) {
	delete(h.peers, peerID)
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, peerID)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// SessionOf returns the room p is admitted to.
func (h *Hub) SessionOf(p Peer) (uuid.UUID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.peers[p.ID()]
	return id, ok
}

// MembersOf returns a snapshot of the room's peers in no particular order.
func (h *Hub) MembersOf(sessionID uuid.UUID) []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[sessionID]
	out := make([]Peer, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	return out
}

// PeersOfUser returns the room's connections belonging to userID.
func (h *Hub) PeersOfUser(sessionID, userID uuid.UUID) []Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Peer
	for _, p := range h.rooms[sessionID] {
		if p.UserID() == userID {
			out = append(out, p)
		}
	}
	return out
}

// OnlineUsers returns the distinct user ids connected to the room.
func (h *Hub) OnlineUsers(sessionID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, p := range h.rooms[sessionID] {
		if _, ok := seen[p.UserID()]; !ok {
			seen[p.UserID()] = struct{}{}
			out = append(out, p.UserID())
		}
	}
	return out
}

// Stats returns the number of rooms and connections.
func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.peers)
}

// Broadcast marshals ev once and sends it to every peer in the room except exclude.
// A peer whose buffer is full is closed; its disconnect path does the cleanup.
func (h *Hub) Broadcast(sessionID uuid.UUID, ev Event, exclude Peer) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	var excludeID string
	if exclude != nil {
		excludeID = exclude.ID()
	}
	for _, p := range h.MembersOf(sessionID) {
		if p.ID() == excludeID {
			continue
		}
		h.deliver(p, raw, ev.Type)
	}
	return nil
}

// Unicast sends ev to a single peer.
func (h *Hub) Unicast(p Peer, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	h.deliver(p, raw, ev.Type)
	return nil
}

func (h *Hub) deliver(p Peer, raw []byte, eventType string) {
	err := p.Send(raw)
	if err == nil || errors.Is(err, ErrPeerClosed) {
		return
	}
	h.logger.Warn("send buffer full, closing connection",
		zap.String("client_id", p.ID()),
		zap.String("user_id", p.UserID().String()),
		zap.String("type", eventType),
	)
	p.Close(CloseTryAgainLater, "send buffer full")
}

// CloseRoom evicts every peer of the room and closes them with code.
func (h *Hub) CloseRoom(sessionID uuid.UUID, code int, reason string) int {
	h.mu.Lock()
	room := h.rooms[sessionID]
	peers := make([]Peer, 0, len(room))
	for id, p := range room {
		peers = append(peers, p)
		delete(h.peers, id)
	}
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	for _, p := range peers {
		p.Close(code, reason)
	}
	return len(peers)
}
