package presentations

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/internal/models"
	"github.com/lectura/studyroom/pkg/response"
	"github.com/lectura/studyroom/pkg/storage"
)

// Store reads presentations.
type Store interface {
	GetPresentation(ctx context.Context, id uuid.UUID) (*models.Presentation, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Presentation, error)
	ListEditors(ctx context.Context, presentationID uuid.UUID) ([]uuid.UUID, error)
}

// MembershipChecker decides who may see a session's files.
type MembershipChecker interface {
	IsMember(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
}

// ObjectStore holds the uploaded files.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
	KeyFromURL(url string) (string, bool)
	PresignExpire() time.Duration
}

// Handler serves presentation uploads and downloads. Live control happens over the room socket.
type Handler struct {
	store   Store
	members MembershipChecker
	objects ObjectStore
	logger  *zap.Logger
}

// NewHandler creates a presentations handler. objects may be nil when S3 is not configured.
func NewHandler(store Store, members MembershipChecker, objects ObjectStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, members: members, objects: objects, logger: logger}
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/sessions/:id/presentations/upload", h.Upload)
	rg.GET("/sessions/:id/presentations", h.List)
	rg.GET("/presentations/:id/download-url", h.DownloadURL)
}

func (h *Handler) requireMember(c *gin.Context, sessionID uuid.UUID) bool {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ok, err := h.members.IsMember(c.Request.Context(), sessionID, userID)
	if err != nil {
		h.logger.Error("check membership", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to check membership")
		return false
	}
	if !ok {
		response.Forbidden(c, "not a participant of this session")
		return false
	}
	return true
}

// Upload handles POST /sessions/:id/presentations/upload (multipart field "file").
// The caller announces the returned fileUrl to the room with presentation_upload.
func (h *Handler) Upload(c *gin.Context) {
	if h.objects == nil {
		response.ServiceUnavailable(c, "file storage not configured")
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if !h.requireMember(c, sessionID) {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	if file.Size > storage.MaxPresentationFileSize {
		response.BadRequest(c, "file size exceeds 50MB limit")
		return
	}
	headerType := file.Header.Get("Content-Type")
	if !storage.ValidatePresentationFileType(headerType, file.Filename) {
		response.BadRequest(c, "invalid file type: only pdf, ppt, pptx, png and jpg allowed")
		return
	}
	contentType := storage.ContentTypeForFilename(file.Filename)
	if _, ok := storage.AllowedPresentationTypes[headerType]; ok {
		contentType = headerType
	}

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	key := storage.PresentationKey(sessionID.String(), uuid.NewString(), file.Filename)
	fileURL, err := h.objects.Upload(c.Request.Context(), key, contentType, rc, file.Size)
	if err != nil {
		h.logger.Error("S3 upload failed", zap.Error(err), zap.String("session_id", sessionID.String()), zap.String("key", key))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	response.Created(c, gin.H{
		"fileName": file.Filename,
		"fileUrl":  fileURL,
		"fileType": contentType,
		"fileSize": file.Size,
	})
}

// List handles GET /sessions/:id/presentations.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if !h.requireMember(c, sessionID) {
		return
	}
	list, err := h.store.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list presentations", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list presentations")
		return
	}
	if list == nil {
		list = []models.Presentation{}
	}
	response.OK(c, list)
}

// DownloadURL handles GET /presentations/:id/download-url. Files outside the bucket are returned as stored.
func (h *Handler) DownloadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid presentation id")
		return
	}
	pres, err := h.store.GetPresentation(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "presentation not found")
		return
	}
	if err != nil {
		h.logger.Error("get presentation", zap.Error(err), zap.String("presentation_id", id.String()))
		response.Internal(c, "failed to load presentation")
		return
	}
	if !h.requireMember(c, pres.SessionID) {
		return
	}
	editors, err := h.store.ListEditors(c.Request.Context(), pres.ID)
	if err != nil {
		h.logger.Error("list editors", zap.Error(err), zap.String("presentation_id", id.String()))
		response.Internal(c, "failed to load presentation")
		return
	}
	if editors == nil {
		editors = []uuid.UUID{}
	}

	url := pres.FileURL
	expiresIn := 0
	if h.objects != nil {
		if key, ok := h.objects.KeyFromURL(pres.FileURL); ok {
			url, err = h.objects.PresignedDownloadURL(c.Request.Context(), key)
			if err != nil {
				h.logger.Error("presign download failed", zap.Error(err), zap.String("key", key))
				response.Internal(c, "failed to sign download url")
				return
			}
			expiresIn = int(h.objects.PresignExpire().Seconds())
		}
	}
	response.OK(c, gin.H{
		"presentation": pres,
		"editors":      editors,
		"downloadUrl":  url,
		"expiresIn":    expiresIn,
	})
}
