package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/response"
)

const (
	defaultChatLimit = 100
	maxChatLimit     = 500
)

// WhiteboardWriter is the live whiteboard buffer shared with the realtime room.
type WhiteboardWriter interface {
	SaveNow(ctx context.Context, sessionID uuid.UUID, content json.RawMessage) error
	Pending(sessionID uuid.UUID) (json.RawMessage, bool)
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title string `json:"title" binding:"required"`
}

// JoinByCodeRequest is the body for POST /sessions/join.
type JoinByCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// WhiteboardRequest is the body for PATCH /sessions/:id/whiteboard.
type WhiteboardRequest struct {
	Content json.RawMessage `json:"content"`
}

// Handler serves the session REST surface.
type Handler struct {
	manager    *Manager
	store      Store
	whiteboard WhiteboardWriter
	logger     *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(manager *Manager, store Store, whiteboard WhiteboardWriter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, store: store, whiteboard: whiteboard, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.Create)
	rg.GET("/sessions", h.List)
	rg.POST("/sessions/join", h.JoinByCode)
	rg.GET("/sessions/code/:code", h.GetByCode)
	rg.GET("/sessions/:id", h.Get)
	rg.POST("/sessions/:id/join", h.Join)
	rg.POST("/sessions/:id/end", h.End)
	rg.GET("/sessions/:id/participants", h.Participants)
	rg.GET("/sessions/:id/whiteboard", h.GetWhiteboard)
	rg.PATCH("/sessions/:id/whiteboard", h.PatchWhiteboard)
	rg.GET("/sessions/:id/chat", h.Chat)
}

func (h *Handler) fail(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, ErrInvalidTitle):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrNotHost):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrNotMember):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrBanned):
		response.Fail(c, http.StatusForbidden, "BANNED", err.Error())
	case errors.Is(err, ErrSessionEnded):
		response.Fail(c, http.StatusConflict, "SESSION_ENDED", err.Error())
	case errors.Is(err, models.ErrInvalidStrokes):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error(op, zap.Error(err))
		response.Internal(c, "failed to "+op)
	}
}

func sessionParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// requireMember resolves the session id and checks the caller belongs to it.
func (h *Handler) requireMember(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, ok := sessionParam(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	member, err := h.store.IsMember(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.fail(c, err, "check membership")
		return uuid.Nil, uuid.Nil, false
	}
	if !member {
		h.fail(c, ErrNotMember, "check membership")
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, userID, true
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, err := h.manager.CreateSession(c.Request.Context(), userID, req.Title)
	if err != nil {
		h.fail(c, err, "create session")
		return
	}
	response.Created(c, s)
}

// List handles GET /sessions: sessions the caller hosts or joined.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.store.ListSessionsForUser(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err, "list sessions")
		return
	}
	if list == nil {
		list = []models.Session{}
	}
	response.OK(c, list)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	s, err := h.store.GetSession(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "get session")
		return
	}
	response.OK(c, s)
}

// GetByCode handles GET /sessions/code/:code.
func (h *Handler) GetByCode(c *gin.Context) {
	s, err := h.store.GetSessionByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err, "get session")
		return
	}
	response.OK(c, s)
}

// Join handles POST /sessions/:id/join. Rejoining returns the existing participant.
func (h *Handler) Join(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	p, err := h.manager.Join(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, err, "join session")
		return
	}
	response.OK(c, p)
}

// JoinByCode handles POST /sessions/join.
func (h *Handler) JoinByCode(c *gin.Context) {
	var req JoinByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, p, err := h.manager.JoinByCode(c.Request.Context(), req.Code, userID)
	if err != nil {
		h.fail(c, err, "join session")
		return
	}
	response.OK(c, gin.H{"session": s, "participant": p})
}

// End handles POST /sessions/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	result, err := h.manager.EndSession(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, err, "end session")
		return
	}
	response.OK(c, result)
}

// Participants handles GET /sessions/:id/participants. ?all=true includes people who left.
func (h *Handler) Participants(c *gin.Context) {
	sessionID, _, ok := h.requireMember(c)
	if !ok {
		return
	}
	var (
		list []models.ParticipantProfile
		err  error
	)
	if c.Query("all") == "true" {
		list, err = h.store.ListParticipants(c.Request.Context(), sessionID)
	} else {
		list, err = h.store.ListPresentParticipants(c.Request.Context(), sessionID)
	}
	if err != nil {
		h.fail(c, err, "list participants")
		return
	}
	if list == nil {
		list = []models.ParticipantProfile{}
	}
	response.OK(c, list)
}

// GetWhiteboard handles GET /sessions/:id/whiteboard. Unsaved live content wins over the stored copy.
func (h *Handler) GetWhiteboard(c *gin.Context) {
	sessionID, _, ok := h.requireMember(c)
	if !ok {
		return
	}
	wb, err := h.store.GetWhiteboard(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "get whiteboard")
		return
	}
	if h.whiteboard != nil {
		if pending, ok := h.whiteboard.Pending(sessionID); ok {
			wb.Content = pending
		}
	}
	response.OK(c, wb)
}

// PatchWhiteboard handles PATCH /sessions/:id/whiteboard and pushes the new content to the room.
func (h *Handler) PatchWhiteboard(c *gin.Context) {
	if h.whiteboard == nil {
		response.ServiceUnavailable(c, "whiteboard not available")
		return
	}
	sessionID, userID, ok := h.requireMember(c)
	if !ok {
		return
	}
	var req WhiteboardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := models.ValidateContent(req.Content); err != nil {
		h.fail(c, err, "save whiteboard")
		return
	}
	ctx := c.Request.Context()
	s, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		h.fail(c, err, "save whiteboard")
		return
	}
	if !s.IsActive {
		h.fail(c, ErrSessionEnded, "save whiteboard")
		return
	}
	p, err := h.store.GetPresentParticipant(ctx, sessionID, userID)
	if errors.Is(err, models.ErrNotFound) {
		h.fail(c, ErrNotMember, "save whiteboard")
		return
	}
	if err != nil {
		h.fail(c, err, "save whiteboard")
		return
	}
	if p.IsMuted {
		response.Fail(c, http.StatusForbidden, "MUTED", "muted participants cannot edit the whiteboard")
		return
	}
	if err := h.whiteboard.SaveNow(ctx, sessionID, req.Content); err != nil {
		h.fail(c, err, "save whiteboard")
		return
	}
	h.manager.AnnounceWhiteboard(sessionID, userID, req.Content)
	response.OK(c, gin.H{"sessionId": sessionID, "content": req.Content})
}

// Chat handles GET /sessions/:id/chat?limit=N.
func (h *Handler) Chat(c *gin.Context) {
	sessionID, _, ok := h.requireMember(c)
	if !ok {
		return
	}
	limit := defaultChatLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxChatLimit)
	}
	list, err := h.store.ListChat(c.Request.Context(), sessionID, limit)
	if err != nil {
		h.fail(c, err, "list chat")
		return
	}
	if list == nil {
		list = []models.ChatMessage{}
	}
	response.OK(c, list)
}
