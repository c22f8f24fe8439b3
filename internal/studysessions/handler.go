package studysessions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/response"
)

// Handler serves the solo study REST surface.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a study sessions handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/study-sessions", h.Start)
	rg.PATCH("/study-sessions/:id", h.Patch)
	rg.GET("/me/study-stats", h.Stats)
}

// Start handles POST /study-sessions.
func (h *Handler) Start(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	s, err := h.service.Start(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("start study session", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to start study session")
		return
	}
	response.Created(c, s)
}

// Patch handles PATCH /study-sessions/:id {tabSwitches, breakSeconds, end}.
func (h *Handler) Patch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid study session id")
		return
	}
	var req Update
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.service.Apply(c.Request.Context(), userID, id, req)
	switch {
	case err == nil:
		response.OK(c, s)
	case errors.Is(err, models.ErrNotFound):
		response.NotFound(c, "study session not found")
	case errors.Is(err, ErrInvalidCounters):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrAlreadyEnded):
		response.Fail(c, http.StatusConflict, "SESSION_ENDED", err.Error())
	default:
		h.logger.Error("update study session", zap.Error(err), zap.String("study_session_id", id.String()))
		response.Internal(c, "failed to update study session")
	}
}

// Stats handles GET /me/study-stats.
func (h *Handler) Stats(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	st, err := h.service.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("get study stats", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to load study stats")
		return
	}
	response.OK(c, st)
}
