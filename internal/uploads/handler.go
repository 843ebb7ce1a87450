package uploads

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/middleware"
	"github.com/nova-academy/backend/pkg/response"
)

// Handler exposes the upload orchestration endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an uploads handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// InitVideoUpload handles POST /uploads/videos. Returns the resumable-upload
// instructions or an explicit error; no partial side effects on invalid input.
func (h *Handler) InitVideoUpload(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req.UserID = c.MustGet(middleware.ContextUserID).(uuid.UUID)

	resp, err := h.service.InitVideoUpload(c.Request.Context(), req)
	if err != nil {
		switch {
		case IsValidation(err):
			response.BadRequest(c, err.Error())
		case errors.Is(err, ErrNoProviderAvailable):
			h.logger.Error("no video storage provider configured")
			response.ServiceUnavailable(c, "video uploads are not configured")
		case IsProviderFailure(err):
			h.logger.Error("provider init failed", zap.Error(err))
			response.BadGateway(c, err.Error())
		default:
			h.logger.Error("init video upload failed", zap.Error(err))
			response.Internal(c, "failed to initialize upload")
		}
		return
	}
	response.OK(c, resp)
}

// GetVideoUploadStatus handles GET /uploads/videos/status?upload_id=. This is
// the polling fallback for clients that missed the push notification; it
// returns the same terminal information the notification carried, or null for
// an empty/unknown/expired id.
func (h *Handler) GetVideoUploadStatus(c *gin.Context) {
	uploadID := c.Query("upload_id")
	session, err := h.service.GetVideoUploadStatus(c.Request.Context(), uploadID)
	if err != nil {
		h.logger.Error("get upload status failed", zap.Error(err), zap.String("upload_id", uploadID))
		response.Internal(c, "failed to read upload status")
		return
	}
	if session == nil {
		response.OK(c, nil)
		return
	}
	response.OK(c, session)
}
