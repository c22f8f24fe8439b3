package activity

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/response"
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Lister reads activity history.
type Lister interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ActivityLog, error)
}

// MembershipChecker decides who may read a session's history.
type MembershipChecker interface {
	IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
}

// Handler handles GET /sessions/:id/activity.
type Handler struct {
	repo    Lister
	members MembershipChecker
	logger  *zap.Logger
}

// NewHandler creates an activity log handler.
func NewHandler(repo Lister, members MembershipChecker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, members: members, logger: logger}
}

// List handles GET /sessions/:id/activity?limit=N&before=RFC3339 (participants only).
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	limit := defaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = min(n, maxLimit)
	}
	var before *time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(c, "invalid before timestamp")
			return
		}
		before = &t
	}

	ctx := c.Request.Context()
	ok, err := h.members.IsMember(ctx, sessionID, userID)
	if err != nil {
		h.logger.Error("check membership", zap.Error(err))
		response.Internal(c, "failed to list activity")
		return
	}
	if !ok {
		response.Forbidden(c, "not a participant of this session")
		return
	}

	list, err := h.repo.ListBySession(ctx, sessionID, before, limit)
	if err != nil {
		h.logger.Error("list activity", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list activity")
		return
	}
	if list == nil {
		list = []models.ActivityLog{}
	}
	response.OK(c, list)
}
