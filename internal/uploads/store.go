package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nova-academy/backend/internal/models"
)

const (
	sessionKeyPrefix  = "upload:session:"
	videoIndexPrefix  = "upload:video:"
	terminalKeyPrefix = "upload:terminal:"
)

var (
	// ErrSessionNotFound indicates the session is unknown or has expired from the store.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrUnknownVideoID indicates no session is indexed under the provider video id.
	ErrUnknownVideoID = errors.New("unknown provider video id")
)

// SessionStore is the authoritative record for in-flight and recently
// completed upload sessions. Redis is used as a TTL key/value store, not a
// system of record: every mutation refreshes the TTL so abandoned sessions
// self-clean.
//
// Keys:
//
//	upload:session:<uploadId>        UploadSession JSON
//	upload:video:<providerVideoId>   -> uploadId (webhook correlation index)
//	upload:terminal:<uploadId>       terminal transition marker (SETNX guard)
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionStore creates a session store with the given per-key TTL.
func NewSessionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl, logger: logger}
}

// Init creates the session record with status queued. Called before any
// provider is contacted so a crash mid-init never leaves an untracked
// provider session.
func (s *SessionStore) Init(ctx context.Context, uploadID, placeholderKey, fileType string, userID uuid.UUID) error {
	session := &models.UploadSession{
		UploadID:       uploadID,
		PlaceholderKey: placeholderKey,
		Status:         models.UploadStatusQueued,
		FileType:       fileType,
		UserID:         userID,
	}
	return s.save(ctx, session)
}

// Get returns the session or nil if unknown/expired.
func (s *SessionStore) Get(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+uploadID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session models.UploadSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// saveUnlessTerminal writes the session back only while no terminal marker
// exists. The marker check and the write execute as one script, so a terminal
// transition claimed between our read and this write can never be overwritten
// with stale non-terminal state.
var saveUnlessTerminal = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// Update applies a mutation to the stored session and writes it back,
// refreshing the TTL. Last writer wins among non-terminal writers; the
// terminal marker owns terminal transitions, and a write racing one is
// dropped.
func (s *SessionStore) Update(ctx context.Context, uploadID string, apply func(*models.UploadSession)) error {
	session, err := s.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Status.Terminal() {
		return nil
	}
	apply(session)
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	err = saveUnlessTerminal.Run(ctx, s.client,
		[]string{sessionKeyPrefix + uploadID, terminalKeyPrefix + uploadID},
		body, s.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// RegisterVideoID attaches the provider's identifiers to the session and
// writes the providerVideoId -> uploadId index entry. Session and index are
// written in one MULTI/EXEC so a webhook can never observe one without the
// other.
func (s *SessionStore) RegisterVideoID(ctx context.Context, uploadID, providerVideoID, placeholderKey, fileKey, provider string) error {
	session, err := s.Get(ctx, uploadID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	session.PlaceholderKey = placeholderKey
	session.ProviderVideoID = providerVideoID
	session.FileKey = fileKey
	session.Provider = provider

	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+uploadID, body, s.ttl)
		pipe.Set(ctx, videoIndexPrefix+providerVideoID, uploadID, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register video id: %w", err)
	}
	return nil
}

// LookupUploadID resolves the internal upload id from the provider's video id.
func (s *SessionStore) LookupUploadID(ctx context.Context, providerVideoID string) (string, error) {
	uploadID, err := s.client.Get(ctx, videoIndexPrefix+providerVideoID).Result()
	if err == redis.Nil {
		return "", ErrUnknownVideoID
	}
	if err != nil {
		return "", fmt.Errorf("lookup video id: %w", err)
	}
	return uploadID, nil
}

// MarkFailed transitions the session to failed with the given reason. The
// transition is guarded by the terminal marker: the first terminal writer
// wins and duplicates are no-ops. Returns whether this call won the
// transition. A session missing from the store is rewritten from the
// placeholder key so the failure stays attributable.
func (s *SessionStore) MarkFailed(ctx context.Context, uploadID, placeholderKey, reason string) (bool, error) {
	won, err := s.claimTerminal(ctx, uploadID, models.UploadStatusFailed)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	session, err := s.Get(ctx, uploadID)
	if err != nil {
		return true, err
	}
	if session == nil {
		session = &models.UploadSession{UploadID: uploadID, PlaceholderKey: placeholderKey}
	}
	session.Status = models.UploadStatusFailed
	session.ErrorMessage = reason
	if session.PlaceholderKey == "" {
		session.PlaceholderKey = placeholderKey
	}
	return true, s.save(ctx, session)
}

// MarkProcessed transitions the session identified by the provider video id
// to processed, recording the resolved playback URL. Returns the updated
// session and whether this call won the terminal transition (false on
// duplicate webhook delivery). ErrUnknownVideoID means the webhook cannot be
// correlated; ErrSessionNotFound means the session expired after indexing.
func (s *SessionStore) MarkProcessed(ctx context.Context, providerVideoID, resolvedURL string) (*models.UploadSession, bool, error) {
	uploadID, err := s.LookupUploadID(ctx, providerVideoID)
	if err != nil {
		return nil, false, err
	}
	won, err := s.claimTerminal(ctx, uploadID, models.UploadStatusProcessed)
	if err != nil {
		return nil, false, err
	}
	session, err := s.Get(ctx, uploadID)
	if err != nil {
		return nil, won, err
	}
	if session == nil {
		return nil, won, ErrSessionNotFound
	}
	if !won {
		return session, false, nil
	}
	session.Status = models.UploadStatusProcessed
	session.FileURL = resolvedURL
	if session.FileKey == "" {
		session.FileKey = models.ProviderBunny + "-" + providerVideoID
	}
	if err := s.save(ctx, session); err != nil {
		return session, true, err
	}
	return session, true, nil
}

// claimTerminal performs the atomic check-and-set for a terminal transition:
// SET NX on the terminal marker. No lock is held and there is no
// read-then-write window for racing webhooks to double-fire.
func (s *SessionStore) claimTerminal(ctx context.Context, uploadID string, status models.UploadStatus) (bool, error) {
	ok, err := s.client.SetNX(ctx, terminalKeyPrefix+uploadID, string(status), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim terminal: %w", err)
	}
	return ok, nil
}

func (s *SessionStore) save(ctx context.Context, session *models.UploadSession) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+session.UploadID, body, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
