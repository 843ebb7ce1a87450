package resources

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/pkg/response"
)

// Handler exposes resource listing endpoints so the UI can render processing
// placeholders and ready assets for an entity.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a resources handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// ListByEntity handles GET /entities/:type/:id/resources.
func (h *Handler) ListByEntity(c *gin.Context) {
	entityType := c.Param("type")
	entityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid entity id")
		return
	}
	list, err := h.repo.ListByEntity(c.Request.Context(), entityType, entityID)
	if err != nil {
		h.logger.Error("list resources failed", zap.Error(err),
			zap.String("entity_type", entityType), zap.String("entity_id", entityID.String()))
		response.Internal(c, "failed to list resources")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /resources/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid resource id")
		return
	}
	res, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "resource not found")
		return
	}
	if err != nil {
		h.logger.Error("get resource failed", zap.Error(err), zap.String("resource_id", id.String()))
		response.Internal(c, "failed to load resource")
		return
	}
	response.OK(c, res)
}
