package uploads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/models"
	"github.com/nova-academy/backend/pkg/queue"
	"github.com/nova-academy/backend/pkg/response"
)

// Bunny video lifecycle status codes delivered via webhook.
const (
	bunnyStatusUploaded = 1
	bunnyStatusFinished = 3
	bunnyStatusError    = 5
)

// videoIDAliases is the ordered list of accepted key names for the video
// identifier. Bunny payload casing has varied across API versions; aliases
// are resolved here at the boundary and never leak further in.
var videoIDAliases = []string{"VideoId", "videoId", "VideoGuid", "videoGuid", "guid"}

var statusAliases = []string{"Status", "status"}

// WebhookHandler reconciles asynchronous provider events against the session
// store. It must be safe to invoke concurrently and repeatedly for the same
// video id: Bunny delivers webhooks at-least-once.
type WebhookHandler struct {
	store    *SessionStore
	bunny    *BunnyProvider
	notifier Notifier
	queue    *queue.Queue
	logger   *zap.Logger
}

// NewWebhookHandler creates the Bunny webhook reconciler. queue may be nil
// when no finalize worker is running.
func NewWebhookHandler(store *SessionStore, bunny *BunnyProvider, notifier Notifier, q *queue.Queue, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{store: store, bunny: bunny, notifier: notifier, queue: q, logger: logger}
}

// HandleBunnyWebhook handles POST /webhooks/bunny. Unknown or extra fields
// are tolerated; only the video id and status are read. Statuses this system
// does not model are acknowledged and ignored so Bunny stops retrying.
func (h *WebhookHandler) HandleBunnyWebhook(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "invalid webhook body: "+err.Error())
		return
	}

	videoID, ok := extractVideoID(payload)
	if !ok {
		h.logger.Warn("bunny webhook without video id", zap.Any("payload_keys", keysOf(payload)))
		response.BadRequest(c, "no recognizable video id field")
		return
	}

	status, ok := extractStatus(payload)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ignored": true})
		return
	}

	switch status {
	case bunnyStatusFinished:
		h.handleFinished(c, videoID)
	case bunnyStatusError:
		h.handleFailed(c, videoID)
	case bunnyStatusUploaded:
		h.handleUploaded(c, videoID)
	default:
		// Intermediate lifecycle events (created, processing, transcoding
		// progress) are not modeled here.
		c.JSON(http.StatusOK, gin.H{"ignored": true})
	}
}

func (h *WebhookHandler) handleFinished(c *gin.Context, videoID string) {
	ctx := c.Request.Context()
	fileURL := h.bunny.ResolvePlaybackURL(ctx, videoID)

	session, won, err := h.store.MarkProcessed(ctx, videoID, fileURL)
	switch {
	case errors.Is(err, ErrUnknownVideoID):
		// An uncorrelated webhook means either a bug or a foreign library
		// event; dropping it silently would strand the uploading client.
		h.logger.Error("bunny webhook for unknown video id", zap.String("video_id", videoID))
		response.BadRequest(c, "unknown video id")
		return
	case errors.Is(err, ErrSessionNotFound):
		// The session already expired from the TTL store. Acknowledge so the
		// provider stops retrying; there is nobody left to notify.
		h.logger.Warn("bunny webhook for expired session", zap.String("video_id", videoID))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	case err != nil:
		h.logger.Error("mark processed failed", zap.Error(err), zap.String("video_id", videoID))
		response.Internal(c, "failed to update upload session")
		return
	}

	if won {
		h.notifier.PublishUploadStatus(UploadNotification{
			UploadID: session.UploadID,
			Status:   models.UploadStatusProcessed,
			FileKey:  session.FileKey,
			FileURL:  fileURL,
			UserID:   session.UserID,
		})
		h.enqueueFinalize(c, session.FileKey, fileURL)
		h.logger.Info("upload processed",
			zap.String("upload_id", session.UploadID),
			zap.String("video_id", videoID),
			zap.String("file_key", session.FileKey))
	} else {
		h.logger.Debug("duplicate finished webhook ignored", zap.String("video_id", videoID))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *WebhookHandler) handleFailed(c *gin.Context, videoID string) {
	ctx := c.Request.Context()
	uploadID, err := h.store.LookupUploadID(ctx, videoID)
	if errors.Is(err, ErrUnknownVideoID) {
		h.logger.Error("bunny failure webhook for unknown video id", zap.String("video_id", videoID))
		response.BadRequest(c, "unknown video id")
		return
	}
	if err != nil {
		response.Internal(c, "failed to resolve upload session")
		return
	}

	session, err := h.store.Get(ctx, uploadID)
	if err != nil {
		response.Internal(c, "failed to read upload session")
		return
	}
	placeholderKey := ""
	if session != nil {
		placeholderKey = session.PlaceholderKey
	}

	won, err := h.store.MarkFailed(ctx, uploadID, placeholderKey, "provider processing failed")
	if err != nil {
		h.logger.Error("mark failed failed", zap.Error(err), zap.String("upload_id", uploadID))
		response.Internal(c, "failed to update upload session")
		return
	}
	if won && session != nil {
		h.notifier.PublishUploadStatus(UploadNotification{
			UploadID: uploadID,
			Status:   models.UploadStatusFailed,
			Error:    "provider processing failed",
			UserID:   session.UserID,
		})
		h.logger.Info("upload failed by provider", zap.String("upload_id", uploadID), zap.String("video_id", videoID))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleUploaded forwards the session to the optional intermediate state:
// bytes received by the provider, transcoding still running.
func (h *WebhookHandler) handleUploaded(c *gin.Context, videoID string) {
	ctx := c.Request.Context()
	uploadID, err := h.store.LookupUploadID(ctx, videoID)
	if errors.Is(err, ErrUnknownVideoID) {
		h.logger.Error("bunny uploaded webhook for unknown video id", zap.String("video_id", videoID))
		response.BadRequest(c, "unknown video id")
		return
	}
	if err != nil {
		response.Internal(c, "failed to resolve upload session")
		return
	}
	err = h.store.Update(ctx, uploadID, func(session *models.UploadSession) {
		session.Status = models.UploadStatusUploaded
	})
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		h.logger.Error("update to uploaded failed", zap.Error(err), zap.String("upload_id", uploadID))
		response.Internal(c, "failed to update upload session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *WebhookHandler) enqueueFinalize(c *gin.Context, fileKey, fileURL string) {
	if h.queue == nil {
		return
	}
	err := h.queue.EnqueueResourceFinalize(c.Request.Context(), queue.ResourceFinalizePayload{
		FileKey: fileKey,
		FileURL: fileURL,
	})
	if err != nil {
		// The status poll still serves the terminal state; do not fail the
		// webhook response over the mirror job.
		h.logger.Error("enqueue resource finalize failed", zap.Error(err), zap.String("file_key", fileKey))
	}
}

func extractVideoID(payload map[string]interface{}) (string, bool) {
	for _, key := range videoIDAliases {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// extractStatus normalizes the status field, which arrives as a JSON number
// or a numeric string depending on the payload version.
func extractStatus(payload map[string]interface{}) (int, bool) {
	for _, key := range statusAliases {
		v, ok := payload[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int(t), true
		case string:
			if n, err := strconv.Atoi(t); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func keysOf(payload map[string]interface{}) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	return keys
}
