package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// maxWaitFactor caps how long continuous drawing can postpone a save, as a multiple of the delay.
	maxWaitFactor = 5
	saveTimeout   = 5 * time.Second
)

// WhiteboardSaver writes whiteboard content.
type WhiteboardSaver interface {
	SaveWhiteboard(ctx context.Context, sessionID uuid.UUID, content json.RawMessage) error
}

type pendingBoard struct {
	content json.RawMessage
	first   time.Time
	timer   *time.Timer
}

// WhiteboardBuffer holds the latest content per session and writes it after a quiet period.
type WhiteboardBuffer struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingBoard
	store   WhiteboardSaver
	delay   time.Duration
	logger  *zap.Logger
}

// NewWhiteboardBuffer creates a buffer that saves after delay without updates.
func NewWhiteboardBuffer(store WhiteboardSaver, delay time.Duration, logger *zap.Logger) *WhiteboardBuffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhiteboardBuffer{
		pending: make(map[uuid.UUID]*pendingBoard),
		store:   store,
		delay:   delay,
		logger:  logger,
	}
}

// Update replaces the pending content and (re)arms the save timer.
func (b *WhiteboardBuffer) Update(sessionID uuid.UUID, content json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb, ok := b.pending[sessionID]
	if !ok {
		pb = &pendingBoard{first: time.Now()}
		b.pending[sessionID] = pb
		pb.timer = time.AfterFunc(b.delay, func() { b.fire(sessionID, pb) })
		pb.content = content
		return
	}
	pb.content = content
	if time.Since(pb.first) < b.delay*maxWaitFactor {
		pb.timer.Reset(b.delay)
	}
}

// Pending returns content not yet written.
func (b *WhiteboardBuffer) Pending(sessionID uuid.UUID) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pb, ok := b.pending[sessionID]; ok {
		return pb.content, true
	}
	return nil, false
}

func (b *WhiteboardBuffer) take(sessionID uuid.UUID, want *pendingBoard) (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb, ok := b.pending[sessionID]
	if !ok || (want != nil && pb != want) {
		return nil, false
	}
	pb.timer.Stop()
	delete(b.pending, sessionID)
	return pb.content, true
}

func (b *WhiteboardBuffer) fire(sessionID uuid.UUID, pb *pendingBoard) {
	content, ok := b.take(sessionID, pb)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := b.store.SaveWhiteboard(ctx, sessionID, content); err != nil {
		b.logger.Error("whiteboard save failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		b.requeue(sessionID, content)
		return
	}
	b.logger.Debug("whiteboard saved", zap.String("session_id", sessionID.String()), zap.Int("bytes", len(content)))
}

// requeue restores content after a failed save unless newer content arrived meanwhile.
func (b *WhiteboardBuffer) requeue(sessionID uuid.UUID, content json.RawMessage) {
	b.mu.Lock()
	_, newer := b.pending[sessionID]
	b.mu.Unlock()
	if !newer {
		b.Update(sessionID, content)
	}
}

// Flush writes the session's pending content now, if any.
func (b *WhiteboardBuffer) Flush(ctx context.Context, sessionID uuid.UUID) error {
	content, ok := b.take(sessionID, nil)
	if !ok {
		return nil
	}
	return b.store.SaveWhiteboard(ctx, sessionID, content)
}

// SaveNow discards any pending content for the session and writes content synchronously.
func (b *WhiteboardBuffer) SaveNow(ctx context.Context, sessionID uuid.UUID, content json.RawMessage) error {
	b.take(sessionID, nil)
	return b.store.SaveWhiteboard(ctx, sessionID, content)
}

// FlushAll writes every pending board; used on shutdown.
func (b *WhiteboardBuffer) FlushAll(ctx context.Context) {
	b.mu.Lock()
	ids := make([]uuid.UUID, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		if err := b.Flush(ctx, id); err != nil {
			b.logger.Error("whiteboard flush failed", zap.String("session_id", id.String()), zap.Error(err))
		}
	}
}
