package models

import "github.com/google/uuid"

// UploadStatus is the lifecycle state of a video upload session.
// queued -> uploaded -> processed, with failed reachable from queued or
// uploaded. processed and failed are terminal.
type UploadStatus string

const (
	UploadStatusQueued    UploadStatus = "queued"
	UploadStatusUploaded  UploadStatus = "uploaded"
	UploadStatusProcessed UploadStatus = "processed"
	UploadStatusFailed    UploadStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusProcessed || s == UploadStatusFailed
}

// Video storage providers.
const (
	ProviderBunny = "bunny"
	ProviderS3    = "s3"
)

// UploadSession is the coordination record for one in-flight video upload.
// It lives in the TTL store, not the database: the durable file_key/resource
// linkage is mirrored into the resources table before the session expires.
type UploadSession struct {
	UploadID          string       `json:"upload_id"`
	PlaceholderKey    string       `json:"placeholder_key"`
	Status            UploadStatus `json:"status"`
	Provider          string       `json:"provider,omitempty"`
	ProviderVideoID   string       `json:"provider_video_id,omitempty"`
	FileKey           string       `json:"file_key,omitempty"`
	FileURL           string       `json:"file_url,omitempty"`
	MultipartUploadID string       `json:"multipart_upload_id,omitempty"`
	PartSize          int64        `json:"part_size,omitempty"`
	FileType          string       `json:"file_type,omitempty"`
	UserID            uuid.UUID    `json:"user_id"`
	ErrorMessage      string       `json:"error_message,omitempty"`
}
