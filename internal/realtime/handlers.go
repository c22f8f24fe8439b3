package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/lectura/studyroom/internal/models"
)

func (r *Router) handleJoin(ctx context.Context, c *call) error {
	s, err := r.store.GetSession(ctx, c.sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: unknown session", ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !s.IsActive {
		return ErrSessionInactive
	}
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	participants, err := r.store.ListPresentParticipants(ctx, c.sessionID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	board, err := r.currentBoard(ctx, c.sessionID)
	if err != nil {
		return err
	}

	_, rejoin := r.hub.SessionOf(c.peer)
	r.hub.Admit(c.sessionID, c.peer)
	if !rejoin {
		r.record(ctx, c.sessionID, p.UserID, models.ActivityJoin, nil)
		r.broadcast(c.sessionID, EventParticipantJoined, map[string]any{
			"userId":      p.UserID,
			"userName":    c.peer.DisplayName(),
			"role":        p.Role,
			"participant": p,
		}, c.peer)
	}
	r.unicast(c.peer, c.sessionID, EventSessionState, map[string]any{
		"session":      s,
		"participants": participants,
		"online":       r.hub.OnlineUsers(c.sessionID),
		"whiteboard":   board,
		"you":          p,
	})
	return nil
}

func (r *Router) currentBoard(ctx context.Context, sessionID uuid.UUID) (any, error) {
	if r.whiteboard != nil {
		if content, ok := r.whiteboard.Pending(sessionID); ok {
			return content, nil
		}
	}
	wb, err := r.store.GetWhiteboard(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.EmptyContent, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load whiteboard: %w", err)
	}
	return wb.Content, nil
}

// handleLeave soft-deletes the participant and drops every connection the user has in the room.
// If the write fails the peer is readmitted, so the disconnect path retries the cleanup.
func (r *Router) handleLeave(ctx context.Context, c *call) error {
	sessionID, ok := r.hub.Evict(c.peer)
	if !ok {
		return nil
	}
	if err := r.markLeft(ctx, sessionID, c.peer.UserID(), c.peer.DisplayName(), "leave"); err != nil {
		r.hub.Admit(sessionID, c.peer)
		return err
	}
	for _, other := range r.hub.PeersOfUser(sessionID, c.peer.UserID()) {
		r.hub.Evict(other)
		other.Close(CloseNormal, "left session")
	}
	return nil
}

func (r *Router) handleTabSwitch(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	n, err := r.store.IncrementTabSwitches(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("increment tab switches: %w", err)
	}
	r.record(ctx, c.sessionID, p.UserID, models.ActivityTabSwitch, map[string]any{"count": n})
	r.broadcast(c.sessionID, EventTabSwitch, map[string]any{
		"userId":      p.UserID,
		"userName":    c.peer.DisplayName(),
		"tabSwitches": n,
	}, nil)
	return nil
}

func (r *Router) handlePause(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	n, err := r.store.IncrementPauseCount(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("increment pause count: %w", err)
	}
	r.record(ctx, c.sessionID, p.UserID, models.ActivityPause, map[string]any{"count": n})
	r.broadcast(c.sessionID, EventParticipantPaused, map[string]any{
		"userId":     p.UserID,
		"userName":   c.peer.DisplayName(),
		"pauseCount": n,
	}, nil)
	return nil
}

func (r *Router) handleUnpause(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	r.record(ctx, c.sessionID, p.UserID, models.ActivityUnpause, nil)
	r.broadcast(c.sessionID, EventParticipantUnpaused, map[string]any{
		"userId":   p.UserID,
		"userName": c.peer.DisplayName(),
	}, nil)
	return nil
}

func (r *Router) handleBreakStart(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*BreakStartPayload)
	now := r.now().UTC()
	if err := r.store.StartBreak(ctx, p.ID, now); err != nil {
		return fmt.Errorf("start break: %w", err)
	}
	r.record(ctx, c.sessionID, p.UserID, models.ActivityBreakStart, map[string]any{"duration": req.Duration})
	r.broadcast(c.sessionID, EventBreakStarted, map[string]any{
		"userId":    p.UserID,
		"userName":  c.peer.DisplayName(),
		"duration":  req.Duration,
		"startedAt": now,
	}, nil)
	return nil
}

func (r *Router) handleBreakEnd(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*BreakEndPayload)
	total, err := r.store.EndBreak(ctx, p.ID, req.ActualDuration)
	if err != nil {
		return fmt.Errorf("end break: %w", err)
	}
	r.record(ctx, c.sessionID, p.UserID, models.ActivityBreakEnd, map[string]any{"actualDuration": req.ActualDuration})
	r.broadcast(c.sessionID, EventBreakEnded, map[string]any{
		"userId":         p.UserID,
		"userName":       c.peer.DisplayName(),
		"actualDuration": req.ActualDuration,
		"breakDuration":  total,
	}, nil)
	return nil
}

// blocked tells a muted sender the action was refused; the connection stays open.
func (r *Router) blocked(c *call, reason string) {
	r.unicast(c.peer, c.sessionID, EventActionBlocked, map[string]string{
		"action": c.msgType,
		"reason": reason,
	})
}

func (r *Router) handleWhiteboardUpdate(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	if IsMuted(p) {
		r.blocked(c, "You are muted")
		return nil
	}
	req := c.payload.(*WhiteboardUpdatePayload)
	if r.whiteboard != nil {
		r.whiteboard.Update(c.sessionID, req.Content)
	}
	r.broadcast(c.sessionID, EventWhiteboardUpdate, map[string]any{
		"userId":  p.UserID,
		"content": req.Content,
	}, c.peer)
	return nil
}

func (r *Router) handleDrawingState(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	if IsMuted(p) {
		r.blocked(c, "You are muted")
		return nil
	}
	req := c.payload.(*DrawingStatePayload)
	r.broadcast(c.sessionID, EventDrawingState, map[string]any{
		"userId":    p.UserID,
		"userName":  c.peer.DisplayName(),
		"tool":      req.Tool,
		"color":     req.Color,
		"size":      req.Size,
		"isDrawing": req.IsDrawing,
	}, c.peer)
	return nil
}

func (r *Router) handleMuteParticipant(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	if IsMuted(p) {
		r.blocked(c, "You are muted")
		return nil
	}
	req := c.payload.(*MuteParticipantPayload)
	muted, err := r.store.ToggleMuted(ctx, c.sessionID, req.UserID)
	if errors.Is(err, models.ErrNotFound) {
		r.blocked(c, "Participant is not in the session")
		return nil
	}
	if err != nil {
		return fmt.Errorf("toggle mute: %w", err)
	}
	r.record(ctx, c.sessionID, req.UserID, models.ActivityMuted, map[string]any{"isMuted": muted, "by": p.UserID})
	r.broadcast(c.sessionID, EventParticipantMuted, map[string]any{
		"userId":  req.UserID,
		"isMuted": muted,
		"by":      p.UserID,
	}, nil)
	return nil
}

func (r *Router) handleMuteAll(ctx context.Context, c *call) error {
	host, err := r.guard.Host(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	n, err := r.store.MuteAllExcept(ctx, c.sessionID, host.UserID)
	if err != nil {
		return fmt.Errorf("mute all: %w", err)
	}
	r.record(ctx, c.sessionID, host.UserID, models.ActivityMuted, map[string]any{"all": true, "count": n})
	r.broadcast(c.sessionID, EventAllMuted, map[string]any{
		"by":    host.UserID,
		"count": n,
	}, nil)
	return nil
}

func (r *Router) handleKickParticipant(ctx context.Context, c *call) error {
	host, err := r.guard.Host(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*KickParticipantPayload)
	if req.UserID == host.UserID {
		r.blocked(c, "The host cannot kick themselves")
		return nil
	}
	kicked, err := r.store.KickParticipant(ctx, c.sessionID, req.UserID)
	if err != nil {
		return fmt.Errorf("kick participant: %w", err)
	}
	if !kicked {
		r.blocked(c, "Participant is not in the session")
		return nil
	}
	r.record(ctx, c.sessionID, req.UserID, models.ActivityKicked, map[string]any{"by": host.UserID})
	r.broadcast(c.sessionID, EventParticipantKicked, map[string]any{
		"userId": req.UserID,
		"by":     host.UserID,
	}, nil)
	for _, target := range r.hub.PeersOfUser(c.sessionID, req.UserID) {
		r.hub.Evict(target)
		target.Close(CloseKicked, "removed by host")
	}
	return nil
}

func (r *Router) handleConcentrationToggle(ctx context.Context, c *call) error {
	host, err := r.guard.Host(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*ConcentrationTogglePayload)
	enabled, err := r.store.SetConcentrationMode(ctx, c.sessionID, req.Enabled)
	if err != nil {
		return fmt.Errorf("set concentration mode: %w", err)
	}
	r.record(ctx, c.sessionID, host.UserID, models.ActivityConcentration, map[string]any{"enabled": enabled})
	r.broadcast(c.sessionID, EventConcentrationToggled, map[string]any{
		"enabled": enabled,
		"by":      host.UserID,
	}, nil)
	return nil
}

func (r *Router) handleChatMessage(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	if IsMuted(p) {
		r.unicast(c.peer, c.sessionID, EventChatError, map[string]string{"message": "You are muted"})
		return nil
	}
	req := c.payload.(*ChatMessagePayload)
	msg := &models.ChatMessage{SessionID: c.sessionID, UserID: p.UserID, Content: req.Content}
	if err := r.store.InsertChatMessage(ctx, msg); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	msg.UserName = c.peer.DisplayName()
	r.broadcast(c.sessionID, EventChatMessage, msg, nil)
	return nil
}

func (r *Router) handleReactionAdd(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	if IsMuted(p) {
		r.blocked(c, "You are muted")
		return nil
	}
	req := c.payload.(*ReactionAddPayload)
	r.broadcast(c.sessionID, EventReactionAdded, map[string]any{
		"id":        uuid.New(),
		"userId":    p.UserID,
		"userName":  c.peer.DisplayName(),
		"emoji":     req.Emoji,
		"x":         req.X,
		"y":         req.Y,
		"timestamp": r.now().UnixMilli(),
	}, nil)
	return nil
}

func (r *Router) handlePresentationUpload(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*PresentationUploadPayload)
	pres := &models.Presentation{
		SessionID:   c.sessionID,
		UploadedBy:  p.UserID,
		FileName:    req.FileName,
		FileURL:     req.FileURL,
		FileType:    req.FileType,
		CurrentPage: 1,
	}
	if err := r.store.CreatePresentation(ctx, pres, req.Editors); err != nil {
		return fmt.Errorf("create presentation: %w", err)
	}
	r.broadcast(c.sessionID, EventPresentationUploaded, map[string]any{
		"presentation": pres,
		"editors":      req.Editors,
		"userName":     c.peer.DisplayName(),
	}, nil)
	return nil
}

func (r *Router) presentationError(c *call, req *PresentationControlPayload, message string) {
	r.unicast(c.peer, c.sessionID, EventPresentationError, map[string]any{
		"presentationId": req.PresentationID,
		"action":         req.Action,
		"message":        message,
	})
}

// handlePresentationControl lets the host do everything; uploaders and editors may only change pages.
func (r *Router) handlePresentationControl(ctx context.Context, c *call) error {
	p, err := r.guard.Participant(ctx, c.sessionID, c.peer.UserID())
	if err != nil {
		return err
	}
	req := c.payload.(*PresentationControlPayload)

	pres, err := r.store.GetPresentation(ctx, req.PresentationID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && pres.SessionID != c.sessionID) {
		r.presentationError(c, req, "Presentation not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load presentation: %w", err)
	}
	isHost, err := r.guard.IsHost(ctx, c.sessionID, p.UserID)
	if err != nil {
		return err
	}

	allowed := isHost
	if !allowed && req.Action == ActionSetPage {
		allowed = pres.UploadedBy == p.UserID
		if !allowed {
			allowed, err = r.store.IsPresentationEditor(ctx, pres.ID, p.UserID)
			if err != nil {
				return fmt.Errorf("check editor: %w", err)
			}
		}
	}
	if !allowed {
		r.presentationError(c, req, "You do not have permission to control this presentation")
		return nil
	}

	out := map[string]any{
		"presentationId": pres.ID,
		"action":         req.Action,
		"by":             p.UserID,
	}
	switch req.Action {
	case ActionSetPage:
		err = r.store.SetPresentationPage(ctx, pres.ID, req.Page)
		out["page"] = req.Page
	case ActionActivate, ActionDeactivate:
		active := req.Action == ActionActivate
		err = r.store.SetPresentationActive(ctx, pres.ID, active)
		out["isActive"] = active
	case ActionGrantEdit:
		err = r.store.GrantPresentationEditor(ctx, pres.ID, req.UserID)
		out["userId"] = req.UserID
	case ActionRevokeEdit:
		err = r.store.RevokePresentationEditor(ctx, pres.ID, req.UserID)
		out["userId"] = req.UserID
	}
	if err != nil {
		return fmt.Errorf("presentation %s: %w", req.Action, err)
	}
	r.broadcast(c.sessionID, EventPresentationControl, out, nil)
	return nil
}
