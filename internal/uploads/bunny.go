package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/nova-academy/backend/config"
	"github.com/nova-academy/backend/internal/models"
)

const (
	bunnyAPIBase     = "https://video.bunnycdn.com"
	bunnyTUSEndpoint = "https://video.bunnycdn.com/tusupload"
)

// BunnyProvider talks to the Bunny Stream API: creates video objects and
// presigns TUS resumable-upload headers. File keys carry the "bunny-" prefix
// so downstream subsystems can discriminate the storage backend.
type BunnyProvider struct {
	cfg     config.BunnyConfig
	http    *http.Client
	apiBase string
	logger  *zap.Logger
}

// NewBunnyProvider creates a Bunny Stream provider. All API calls are bounded
// by the configured timeout.
func NewBunnyProvider(cfg config.BunnyConfig, logger *zap.Logger) *BunnyProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BunnyProvider{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		apiBase: bunnyAPIBase,
		logger:  logger,
	}
}

// Name returns the provider tag used in session records and file keys.
func (b *BunnyProvider) Name() string { return models.ProviderBunny }

// IsAvailable reports whether the library credentials are configured. No API
// call is made.
func (b *BunnyProvider) IsAvailable() bool {
	return b.cfg.LibraryID != "" && b.cfg.APIKey != ""
}

type bunnyCreateVideoResponse struct {
	GUID  string `json:"guid"`
	Title string `json:"title"`
}

// InitVideoUpload creates a video object in the Bunny library and returns the
// TUS endpoint plus presigned headers the client uses to stream bytes
// directly to Bunny.
func (b *BunnyProvider) InitVideoUpload(ctx context.Context, payload InitPayload) (*InitResult, error) {
	title := payload.Title
	if title == "" {
		title = payload.Filename
	}
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, fmt.Errorf("encode create video: %w", err)
	}

	url := fmt.Sprintf("%s/library/%s/videos", b.apiBase, b.cfg.LibraryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("AccessKey", b.cfg.APIKey)

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bunny create video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("bunny create video: status %d: %s", resp.StatusCode, string(raw))
	}

	var created bunnyCreateVideoResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode create video: %w", err)
	}
	if created.GUID == "" {
		return nil, fmt.Errorf("bunny create video: empty guid")
	}

	expireHours := b.cfg.TUSExpireHours
	if expireHours <= 0 {
		expireHours = 6
	}
	expiresAt := time.Now().Add(time.Duration(expireHours) * time.Hour).Unix()

	return &InitResult{
		FileKey:     models.ProviderBunny + "-" + created.GUID,
		Provider:    models.ProviderBunny,
		BunnyGUID:   created.GUID,
		TUSEndpoint: bunnyTUSEndpoint,
		TUSHeaders: map[string]string{
			"AuthorizationSignature": b.tusSignature(created.GUID, expiresAt),
			"AuthorizationExpire":    strconv.FormatInt(expiresAt, 10),
			"VideoId":                created.GUID,
			"LibraryId":              b.cfg.LibraryID,
		},
		ExpiresAt: expiresAt,
	}, nil
}

// ResolvePlaybackURL returns the playable URL for a finished video. The video
// object is fetched once to confirm it exists; if the read fails the URL is
// still constructed from configuration so a flaky provider read cannot drop a
// terminal event.
func (b *BunnyProvider) ResolvePlaybackURL(ctx context.Context, guid string) string {
	url := fmt.Sprintf("%s/library/%s/videos/%s", b.apiBase, b.cfg.LibraryID, guid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err == nil {
		req.Header.Set("AccessKey", b.cfg.APIKey)
		resp, err := b.http.Do(req)
		if err != nil {
			b.logger.Warn("bunny video lookup failed, using constructed playback url",
				zap.String("guid", guid), zap.Error(err))
		} else {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
		}
	}
	if b.cfg.CDNHostname != "" {
		return fmt.Sprintf("https://%s/%s/playlist.m3u8", b.cfg.CDNHostname, guid)
	}
	return fmt.Sprintf("https://iframe.mediadelivery.net/play/%s/%s", b.cfg.LibraryID, guid)
}

// tusSignature computes the Bunny TUS presign: SHA-256 over
// libraryId + apiKey + expiry + videoId, hex encoded.
func (b *BunnyProvider) tusSignature(guid string, expiresAt int64) string {
	sum := sha256.Sum256([]byte(b.cfg.LibraryID + b.cfg.APIKey + strconv.FormatInt(expiresAt, 10) + guid))
	return hex.EncodeToString(sum[:])
}
