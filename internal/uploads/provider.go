package uploads

import (
	"context"
	"errors"
)

// ErrNoProviderAvailable indicates no storage provider is configured; the
// request fails fast with a configuration error rather than silently no-oping.
var ErrNoProviderAvailable = errors.New("no video storage provider available")

// InitPayload is the provider-facing slice of an upload init request.
type InitPayload struct {
	UploadID string
	Filename string
	Title    string
	MimeType string
	Resource string
}

// InitResult is the resumable-upload negotiation returned by a provider.
// The provider never receives the file bytes; the client streams them
// directly using these parameters.
type InitResult struct {
	FileKey           string
	Provider          string
	BunnyGUID         string
	TUSEndpoint       string
	TUSHeaders        map[string]string
	ExpiresAt         int64 // unix seconds; when the TUS presign expires
	MultipartUploadID string
	PartSize          int64
}

// Provider is a video storage backend able to open upload sessions.
type Provider interface {
	Name() string
	// IsAvailable checks configuration/credentials without a billable call.
	IsAvailable() bool
	// InitVideoUpload negotiates a new upload session. Each call opens a new
	// session; no byte transfer happens here.
	InitVideoUpload(ctx context.Context, payload InitPayload) (*InitResult, error)
}

// ChooseProvider selects the first available provider in preference order
// (the streaming specialist first, the object-store fallback second).
func ChooseProvider(providers []Provider) (Provider, error) {
	for _, p := range providers {
		if p != nil && p.IsAvailable() {
			return p, nil
		}
	}
	return nil, ErrNoProviderAvailable
}
