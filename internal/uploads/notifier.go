package uploads

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/models"
	"github.com/nova-academy/backend/internal/realtime"
)

// UploadNotification is the completion (or failure) event pushed to the
// uploading client when a session reaches a terminal state.
type UploadNotification struct {
	UploadID string              `json:"upload_id"`
	Status   models.UploadStatus `json:"status"`
	FileKey  string              `json:"file_key,omitempty"`
	FileURL  string              `json:"file_url,omitempty"`
	Error    string              `json:"error,omitempty"`
	UserID   uuid.UUID           `json:"user_id"`
}

// Notifier pushes terminal-state events to whatever live client session
// belongs to the uploading user. Delivery is best-effort: with no session
// connected the event is dropped and the client falls back to polling the
// status endpoint, which reads the same terminal state.
type Notifier interface {
	PublishUploadStatus(n UploadNotification)
}

// UploadStatusEvent is the websocket event name for upload notifications.
const UploadStatusEvent = "video_upload_status"

// HubNotifier delivers notifications over the websocket hub. Pushes run on
// their own goroutine so a slow or failed delivery never blocks the webhook
// responder.
type HubNotifier struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

// NewHubNotifier creates a hub-backed notifier.
func NewHubNotifier(hub *realtime.Hub, logger *zap.Logger) *HubNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HubNotifier{hub: hub, logger: logger}
}

// PublishUploadStatus fans the event out via Redis; every instance, including
// this one, delivers to its own connections through the subscriber callback,
// so each connection sees one event per terminal transition. Fire-and-forget.
func (h *HubNotifier) PublishUploadStatus(n UploadNotification) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("upload notification panic", zap.Any("panic", r))
			}
		}()
		h.hub.PublishToUser(n.UserID, UploadStatusEvent, n)
		h.logger.Debug("upload notification pushed",
			zap.String("upload_id", n.UploadID),
			zap.String("status", string(n.Status)),
			zap.String("user_id", n.UserID.String()))
	}()
}
