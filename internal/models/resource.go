package models

import (
	"time"

	"github.com/google/uuid"
)

// ResourceStatus tracks whether the linked asset is still processing.
type ResourceStatus string

const (
	ResourceStatusProcessing ResourceStatus = "processing"
	ResourceStatusReady      ResourceStatus = "ready"
)

// Resource links an uploaded asset to its owning entity (lesson, course, ...)
// or to a staging context when the entity does not exist yet. Created at
// upload-init time so the UI can render a processing placeholder immediately.
type Resource struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   *uuid.UUID     `json:"entity_id,omitempty"`
	ContextID  *uuid.UUID     `json:"context_id,omitempty"`
	Bucket     string         `json:"bucket"` // logical resource bucket, e.g. lesson-videos
	FileKey    string         `json:"file_key"`
	Title      string         `json:"title,omitempty"`
	FileType   string         `json:"file_type,omitempty"`
	VideoURL   string         `json:"video_url,omitempty"`
	Status     ResourceStatus `json:"status"`
	CreatedBy  uuid.UUID      `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
