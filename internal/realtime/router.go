package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/internal/sessions"
)

// Store is everything the message handlers read and write.
type Store interface {
	GuardStore
	ListPresentParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantProfile, error)
	MarkParticipantLeft(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	IncrementTabSwitches(ctx context.Context, participantID uuid.UUID) (int, error)
	IncrementPauseCount(ctx context.Context, participantID uuid.UUID) (int, error)
	StartBreak(ctx context.Context, participantID uuid.UUID, at time.Time) error
	EndBreak(ctx context.Context, participantID uuid.UUID, seconds int) (int, error)
	ToggleMuted(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	MuteAllExcept(ctx context.Context, sessionID, exceptUserID uuid.UUID) (int64, error)
	KickParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	SetConcentrationMode(ctx context.Context, sessionID uuid.UUID, enabled *bool) (bool, error)
	InsertChatMessage(ctx context.Context, m *models.ChatMessage) error
	GetWhiteboard(ctx context.Context, sessionID uuid.UUID) (*models.Whiteboard, error)
	CreatePresentation(ctx context.Context, p *models.Presentation, editors []uuid.UUID) error
	GetPresentation(ctx context.Context, id uuid.UUID) (*models.Presentation, error)
	IsPresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) (bool, error)
	SetPresentationPage(ctx context.Context, id uuid.UUID, page int) error
	SetPresentationActive(ctx context.Context, id uuid.UUID, active bool) error
	GrantPresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) error
	RevokePresentationEditor(ctx context.Context, presentationID, userID uuid.UUID) error
}

// ActivityRecorder accepts audit entries.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, entry models.ActivityLog) error
}

// call is one inbound message being handled.
type call struct {
	peer      Peer
	sessionID uuid.UUID
	msgType   string
	payload   any
}

type handlerFunc func(ctx context.Context, c *call) error

// Router decodes inbound messages and dispatches them by type.
type Router struct {
	hub        *Hub
	store      Store
	guard      *Guard
	activity   ActivityRecorder
	whiteboard *WhiteboardBuffer
	logger     *zap.Logger
	timeout    time.Duration
	now        func() time.Time
	handlers   map[string]handlerFunc
}

// NewRouter wires the message handlers. activity may be nil.
func NewRouter(hub *Hub, store Store, whiteboard *WhiteboardBuffer, activity ActivityRecorder, timeout time.Duration, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &Router{
		hub:        hub,
		store:      store,
		guard:      NewGuard(store),
		activity:   activity,
		whiteboard: whiteboard,
		logger:     logger,
		timeout:    timeout,
		now:        time.Now,
	}
	r.handlers = map[string]handlerFunc{
		TypeJoin:                r.handleJoin,
		TypeLeave:               r.handleLeave,
		TypeTabSwitch:           r.handleTabSwitch,
		TypePause:               r.handlePause,
		TypeUnpause:             r.handleUnpause,
		TypeBreakStart:          r.handleBreakStart,
		TypeBreakEnd:            r.handleBreakEnd,
		TypeWhiteboardUpdate:    r.handleWhiteboardUpdate,
		TypeDrawingState:        r.handleDrawingState,
		TypeMuteParticipant:     r.handleMuteParticipant,
		TypeMuteAll:             r.handleMuteAll,
		TypeKickParticipant:     r.handleKickParticipant,
		TypeConcentrationToggle: r.handleConcentrationToggle,
		TypeChatMessage:         r.handleChatMessage,
		TypeReactionAdd:         r.handleReactionAdd,
		TypePresentationUpload:  r.handlePresentationUpload,
		TypePresentationControl: r.handlePresentationControl,
	}
	return r
}

// Hub returns the room registry the router broadcasts through.
func (r *Router) Hub() *Hub { return r.hub }

// Handle processes one inbound frame from p. Messages from one connection are handled in receipt order
// because the read loop calls Handle synchronously.
func (r *Router) Handle(ctx context.Context, p Peer, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		r.logger.Warn("ignoring inbound message",
			zap.String("client_id", p.ID()),
			zap.String("user_id", p.UserID().String()),
			zap.Error(err),
		)
		return
	}
	log := r.logger.With(
		zap.String("client_id", p.ID()),
		zap.String("user_id", p.UserID().String()),
		zap.String("session_id", msg.SessionID.String()),
		zap.String("type", msg.Type),
	)

	joined, inRoom := r.hub.SessionOf(p)
	switch {
	case msg.Type == TypeLeave && !inRoom:
		return
	case msg.Type == TypeJoin && inRoom && joined != msg.SessionID:
		r.violation(p, log, fmt.Errorf("%w: already joined another session", ErrUnauthorized))
		return
	case msg.Type != TypeJoin && !inRoom:
		r.violation(p, log, fmt.Errorf("%w: %s before join", ErrUnauthorized, msg.Type))
		return
	case msg.Type != TypeJoin && joined != msg.SessionID:
		r.violation(p, log, fmt.Errorf("%w: message for another session", ErrUnauthorized))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.handlers[msg.Type](ctx, &call{peer: p, sessionID: msg.SessionID, msgType: msg.Type, payload: msg.Payload})
	switch {
	case err == nil:
		log.Debug("handled")
	case errors.Is(err, ErrUnauthorized):
		r.violation(p, log, err)
	case errors.Is(err, ErrSessionInactive):
		log.Info("join refused: session inactive")
		r.Disconnect(p)
		p.Close(CloseSessionEnded, "session ended")
	default:
		log.Error("handler failed", zap.Error(err))
		r.unicast(p, msg.SessionID, EventError, map[string]string{
			"type":    msg.Type,
			"message": "action failed, please retry",
		})
	}
}

// violation closes the connection after running leave cleanup.
func (r *Router) violation(p Peer, log *zap.Logger, err error) {
	log.Warn("protocol violation, closing connection", zap.Error(err))
	r.Disconnect(p)
	p.Close(CloseUnauthorized, "unauthorized")
}

// Disconnect performs leave cleanup for a dropped connection. Only the call that actually
// evicts p does any work, so racing leave and close paths clean up once.
func (r *Router) Disconnect(p Peer) {
	sessionID, ok := r.hub.Evict(p)
	if !ok {
		return
	}
	if len(r.hub.PeersOfUser(sessionID, p.UserID())) > 0 {
		// Another tab of the same user is still in the room.
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.markLeft(ctx, sessionID, p.UserID(), p.DisplayName(), "disconnect"); err != nil {
		r.logger.Error("disconnect cleanup failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", p.UserID().String()),
			zap.Error(err),
		)
	}
}

func (r *Router) markLeft(ctx context.Context, sessionID, userID uuid.UUID, name, reason string) error {
	left, err := r.store.MarkParticipantLeft(ctx, sessionID, userID)
	if err != nil {
		return fmt.Errorf("mark participant left: %w", err)
	}
	if !left {
		return nil
	}
	r.record(ctx, sessionID, userID, models.ActivityLeave, map[string]any{"reason": reason})
	r.broadcast(sessionID, EventParticipantLeft, map[string]any{
		"userId":   userID,
		"userName": name,
		"reason":   reason,
	}, nil)
	return nil
}

// SessionEnded flushes the whiteboard, notifies the room and disconnects every peer.
func (r *Router) SessionEnded(ctx context.Context, result sessions.EndResult) {
	sessionID := result.Session.ID
	if r.whiteboard != nil {
		if err := r.whiteboard.Flush(ctx, sessionID); err != nil {
			r.logger.Error("whiteboard flush on end failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	r.broadcast(sessionID, EventSessionEnded, map[string]any{
		"endedAt": result.Session.EndedAt,
		"credits": result.Credits,
	}, nil)
	n := r.hub.CloseRoom(sessionID, CloseSessionEnded, "session ended")
	r.logger.Info("room closed", zap.String("session_id", sessionID.String()), zap.Int("connections", n))
}

// WhiteboardReplaced broadcasts content saved over REST as a regular whiteboard update.
func (r *Router) WhiteboardReplaced(sessionID, userID uuid.UUID, content json.RawMessage) {
	r.broadcast(sessionID, EventWhiteboardUpdate, map[string]any{
		"userId":  userID,
		"content": content,
	}, nil)
}

func (r *Router) broadcast(sessionID uuid.UUID, eventType string, data any, exclude Peer) {
	if err := r.hub.Broadcast(sessionID, Event{Type: eventType, SessionID: sessionID, Data: data}, exclude); err != nil {
		r.logger.Error("broadcast failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (r *Router) unicast(p Peer, sessionID uuid.UUID, eventType string, data any) {
	if err := r.hub.Unicast(p, Event{Type: eventType, SessionID: sessionID, Data: data}); err != nil {
		r.logger.Error("unicast failed", zap.String("type", eventType), zap.Error(err))
	}
}

// record writes an audit entry; failures are logged and never fail the handler.
func (r *Router) record(ctx context.Context, sessionID, userID uuid.UUID, activityType string, meta map[string]any) {
	if r.activity == nil {
		return
	}
	var raw json.RawMessage
	if meta != nil {
		b, err := json.Marshal(meta)
		if err == nil {
			raw = b
		}
	}
	entry := models.ActivityLog{
		ID:           uuid.New(),
		SessionID:    sessionID,
		UserID:       userID,
		ActivityType: activityType,
		Metadata:     raw,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.activity.RecordActivity(ctx, entry); err != nil {
		r.logger.Warn("record activity failed",
			zap.String("session_id", sessionID.String()),
			zap.String("activity_type", activityType),
			zap.Error(err),
		)
	}
}
