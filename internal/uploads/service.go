package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/models"
)

// DefaultResourceBucket is the logical bucket used when the caller does not
// name one; lesson videos are the common case on the course platform.
const DefaultResourceBucket = "lesson-videos"

// ValidationError is a client error rejected before any state is created or
// any provider is contacted.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a provider init failure. The session has already been
// marked failed by the time the caller sees this.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ResourceCreator is the resource-metadata collaborator: it links a
// not-yet-uploaded asset to its owning entity so the UI can show a processing
// placeholder immediately.
type ResourceCreator interface {
	Create(ctx context.Context, r *models.Resource) (*models.Resource, error)
}

// InitRequest is the caller-facing input for opening an upload session.
// Exactly one of EntityID or ContextID must be set: an existing entity to
// attach the asset to, or a staging context for an entity not yet created.
type InitRequest struct {
	Filename   string     `json:"filename" binding:"required"`
	SizeBytes  int64      `json:"size_bytes"`
	MimeType   string     `json:"mime_type"`
	Title      string     `json:"title"`
	Resource   string     `json:"resource"`
	EntityID   *uuid.UUID `json:"entity_id"`
	ContextID  *uuid.UUID `json:"context_id"`
	EntityType string     `json:"entity_type"`

	UserID uuid.UUID `json:"-"` // from JWT, not the body
}

// InitResponse is the resumable-upload instruction set returned to the client.
type InitResponse struct {
	UploadID          string            `json:"upload_id"`
	Provider          string            `json:"provider"`
	BunnyGUID         string            `json:"bunny_guid,omitempty"`
	FileKey           string            `json:"file_key"`
	TUSEndpoint       string            `json:"tus_endpoint,omitempty"`
	TUSHeaders        map[string]string `json:"tus_headers,omitempty"`
	ExpiresAt         int64             `json:"expires_at,omitempty"`
	MultipartUploadID string            `json:"multipart_upload_id,omitempty"`
	PartSize          int64             `json:"part_size,omitempty"`
	ResourceID        *uuid.UUID        `json:"resource_id,omitempty"`
}

// Mime types accepted for video uploads.
var allowedMimeTypes = map[string]bool{
	"video/mp4":        true,
	"video/webm":       true,
	"video/quicktime":  true,
	"video/x-matroska": true,
	"video/x-msvideo":  true,
	"video/mpeg":       true,
}

// Service orchestrates upload sessions: validates the request, selects a
// provider, persists state and assembles the client-facing response. No file
// bytes pass through it.
type Service struct {
	store           *SessionStore
	providers       []Provider
	resources       ResourceCreator
	maxSizeBytes    int64
	providerTimeout time.Duration
	logger          *zap.Logger
}

// NewService creates the upload orchestrator. Providers are tried in slice
// order; put the streaming specialist first.
func NewService(store *SessionStore, providers []Provider, resources ResourceCreator, maxSizeBytes int64, providerTimeout time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &Service{
		store:           store,
		providers:       providers,
		resources:       resources,
		maxSizeBytes:    maxSizeBytes,
		providerTimeout: providerTimeout,
		logger:          logger,
	}
}

// InitVideoUpload opens a new upload session and returns resumable-upload
// instructions. State is written before the provider is contacted so a crash
// between the two never leaves an untracked provider session. A provider
// failure marks the session failed and is re-raised; the caller sees it
// immediately and does not need to poll.
func (s *Service) InitVideoUpload(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	resource := req.Resource
	if resource == "" {
		resource = DefaultResourceBucket
	}

	uploadID := uuid.New().String()
	placeholderKey := resource + "/" + uploadID
	fileType := fileTypeOf(req.Filename)

	if err := s.store.Init(ctx, uploadID, placeholderKey, fileType, req.UserID); err != nil {
		return nil, err
	}

	provider, err := ChooseProvider(s.providers)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	result, err := provider.InitVideoUpload(callCtx, InitPayload{
		UploadID: uploadID,
		Filename: req.Filename,
		Title:    req.Title,
		MimeType: req.MimeType,
		Resource: resource,
	})
	if err != nil {
		if _, ferr := s.store.MarkFailed(ctx, uploadID, placeholderKey, err.Error()); ferr != nil {
			s.logger.Error("mark failed after provider error", zap.Error(ferr), zap.String("upload_id", uploadID))
		}
		return nil, &ProviderError{Provider: provider.Name(), Err: err}
	}

	if result.BunnyGUID != "" {
		err = s.store.RegisterVideoID(ctx, uploadID, result.BunnyGUID, placeholderKey, result.FileKey, result.Provider)
	} else {
		err = s.store.Update(ctx, uploadID, func(session *models.UploadSession) {
			session.Provider = result.Provider
			session.FileKey = result.FileKey
			session.MultipartUploadID = result.MultipartUploadID
			session.PartSize = result.PartSize
		})
	}
	if err != nil {
		return nil, err
	}

	resp := &InitResponse{
		UploadID:          uploadID,
		Provider:          result.Provider,
		BunnyGUID:         result.BunnyGUID,
		FileKey:           result.FileKey,
		TUSEndpoint:       result.TUSEndpoint,
		TUSHeaders:        result.TUSHeaders,
		ExpiresAt:         result.ExpiresAt,
		MultipartUploadID: result.MultipartUploadID,
		PartSize:          result.PartSize,
	}

	if req.EntityID != nil || req.ContextID != nil {
		created, err := s.resources.Create(ctx, &models.Resource{
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			ContextID:  req.ContextID,
			Bucket:     resource,
			FileKey:    result.FileKey,
			Title:      req.Title,
			FileType:   fileType,
			Status:     models.ResourceStatusProcessing,
			CreatedBy:  req.UserID,
		})
		if err != nil {
			if _, ferr := s.store.MarkFailed(ctx, uploadID, placeholderKey, "resource attach: "+err.Error()); ferr != nil {
				s.logger.Error("mark failed after resource error", zap.Error(ferr), zap.String("upload_id", uploadID))
			}
			return nil, fmt.Errorf("create resource: %w", err)
		}
		resp.ResourceID = &created.ID
	}

	s.logger.Info("video upload session opened",
		zap.String("upload_id", uploadID),
		zap.String("provider", result.Provider),
		zap.String("file_key", result.FileKey))
	return resp, nil
}

// GetVideoUploadStatus returns the session snapshot, or nil for an empty,
// unknown or expired upload id. Polling code may call this before an id is
// known, so the empty id is not an error.
func (s *Service) GetVideoUploadStatus(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if uploadID == "" {
		return nil, nil
	}
	return s.store.Get(ctx, uploadID)
}

func (s *Service) validate(req InitRequest) error {
	if strings.TrimSpace(req.Filename) == "" {
		return validationErrorf("filename is required")
	}
	if req.SizeBytes <= 0 {
		return validationErrorf("size_bytes must be positive")
	}
	if s.maxSizeBytes > 0 && req.SizeBytes > s.maxSizeBytes {
		return validationErrorf("file exceeds maximum size of %d bytes", s.maxSizeBytes)
	}
	if !allowedMimeTypes[strings.ToLower(req.MimeType)] {
		return validationErrorf("mime type %q is not an allowed video type", req.MimeType)
	}
	if req.EntityID == nil && req.ContextID == nil {
		return validationErrorf("one of entity_id or context_id is required")
	}
	if req.EntityID != nil && req.ContextID != nil {
		return validationErrorf("entity_id and context_id are mutually exclusive")
	}
	if strings.TrimSpace(req.EntityType) == "" {
		return validationErrorf("entity_type is required")
	}
	return nil
}

func fileTypeOf(filename string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
}

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProviderFailure reports whether err came from the storage provider during init.
func IsProviderFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
