package uploads

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nova-academy/backend/internal/models"
)

// setupTestStore creates an in-memory Redis server and a session store on top of it.
func setupTestStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to connect to test redis: %v", err)
	}
	store := NewSessionStore(client, ttl, nil)
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return store, mr, cleanup
}

func TestSessionStore_InitAndGet(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	userID := uuid.New()
	if err := store.Init(ctx, "up-1", "lesson-videos/up-1", "mp4", userID); err != nil {
		t.Fatalf("init: %v", err)
	}

	session, err := store.Get(ctx, "up-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if session == nil {
		t.Fatal("expected session, got nil")
	}
	if session.Status != models.UploadStatusQueued {
		t.Fatalf("expected status queued, got %s", session.Status)
	}
	if session.PlaceholderKey != "lesson-videos/up-1" {
		t.Fatalf("unexpected placeholder key %q", session.PlaceholderKey)
	}
	if session.UserID != userID {
		t.Fatalf("user id not persisted")
	}
}

func TestSessionStore_GetUnknown(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()

	session, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Fatal("expected nil session for unknown id")
	}
}

func TestSessionStore_SessionExpires(t *testing.T) {
	store, mr, cleanup := setupTestStore(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-ttl", "lesson-videos/up-ttl", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	session, err := store.Get(ctx, "up-ttl")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if session != nil {
		t.Fatal("expected session to expire")
	}
}

func TestSessionStore_UpdateSkipsTerminal(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-2", "lesson-videos/up-2", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := store.MarkFailed(ctx, "up-2", "lesson-videos/up-2", "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	err := store.Update(ctx, "up-2", func(s *models.UploadSession) {
		s.Status = models.UploadStatusUploaded
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	session, _ := store.Get(ctx, "up-2")
	if session.Status != models.UploadStatusFailed {
		t.Fatalf("terminal state mutated, got %s", session.Status)
	}
}

func TestSessionStore_UpdateYieldsToClaimedTerminal(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-race", "lesson-videos/up-race", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}

	// A finished webhook has claimed the terminal marker but not yet written
	// the processed record; an uploaded webhook races the window.
	won, err := store.claimTerminal(ctx, "up-race", models.UploadStatusProcessed)
	if err != nil || !won {
		t.Fatalf("claim terminal: won=%v err=%v", won, err)
	}

	err = store.Update(ctx, "up-race", func(s *models.UploadSession) {
		s.Status = models.UploadStatusUploaded
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	session, _ := store.Get(ctx, "up-race")
	if session.Status != models.UploadStatusQueued {
		t.Fatalf("racing update must not write past a claimed terminal, got %s", session.Status)
	}
}

func TestSessionStore_UpdateUnknownSession(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()

	err := store.Update(context.Background(), "ghost", func(s *models.UploadSession) {})
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStore_RegisterAndLookupVideoID(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-3", "lesson-videos/up-3", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}
	err := store.RegisterVideoID(ctx, "up-3", "guid-abc", "lesson-videos/up-3", "bunny-guid-abc", models.ProviderBunny)
	if err != nil {
		t.Fatalf("register video id: %v", err)
	}

	uploadID, err := store.LookupUploadID(ctx, "guid-abc")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if uploadID != "up-3" {
		t.Fatalf("expected up-3, got %q", uploadID)
	}

	session, _ := store.Get(ctx, "up-3")
	if session.ProviderVideoID != "guid-abc" || session.FileKey != "bunny-guid-abc" || session.Provider != models.ProviderBunny {
		t.Fatalf("provider fields not persisted: %+v", session)
	}
}

func TestSessionStore_LookupUnknownVideoID(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()

	_, err := store.LookupUploadID(context.Background(), "no-such-guid")
	if err != ErrUnknownVideoID {
		t.Fatalf("expected ErrUnknownVideoID, got %v", err)
	}
}

func TestSessionStore_MarkFailedFirstWriterWins(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-4", "lesson-videos/up-4", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}

	won, err := store.MarkFailed(ctx, "up-4", "lesson-videos/up-4", "first")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !won {
		t.Fatal("first mark failed should win")
	}

	won, err = store.MarkFailed(ctx, "up-4", "lesson-videos/up-4", "second")
	if err != nil {
		t.Fatalf("duplicate mark failed: %v", err)
	}
	if won {
		t.Fatal("duplicate mark failed should not win")
	}

	session, _ := store.Get(ctx, "up-4")
	if session.ErrorMessage != "first" {
		t.Fatalf("expected first failure reason to stick, got %q", session.ErrorMessage)
	}
}

func TestSessionStore_MarkFailedRewritesMissingSession(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	won, err := store.MarkFailed(ctx, "up-gone", "lesson-videos/up-gone", "provider exploded")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !won {
		t.Fatal("expected to win terminal transition")
	}

	session, _ := store.Get(ctx, "up-gone")
	if session == nil {
		t.Fatal("expected failure record to be written")
	}
	if session.Status != models.UploadStatusFailed || session.PlaceholderKey != "lesson-videos/up-gone" {
		t.Fatalf("unexpected rewritten session: %+v", session)
	}
}

func TestSessionStore_MarkProcessed(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()
	ctx := context.Background()

	if err := store.Init(ctx, "up-5", "lesson-videos/up-5", "mp4", uuid.New()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := store.RegisterVideoID(ctx, "up-5", "guid-xyz", "lesson-videos/up-5", "bunny-guid-xyz", models.ProviderBunny); err != nil {
		t.Fatalf("register video id: %v", err)
	}

	session, won, err := store.MarkProcessed(ctx, "guid-xyz", "https://cdn.example.com/guid-xyz/playlist.m3u8")
	if err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if !won {
		t.Fatal("first mark processed should win")
	}
	if session.Status != models.UploadStatusProcessed {
		t.Fatalf("expected processed, got %s", session.Status)
	}
	if session.FileURL != "https://cdn.example.com/guid-xyz/playlist.m3u8" {
		t.Fatalf("file url not recorded: %q", session.FileURL)
	}

	// Duplicate delivery: same session back, but no win.
	session, won, err = store.MarkProcessed(ctx, "guid-xyz", "https://cdn.example.com/guid-xyz/playlist.m3u8")
	if err != nil {
		t.Fatalf("duplicate mark processed: %v", err)
	}
	if won {
		t.Fatal("duplicate mark processed should not win")
	}
	if session.Status != models.UploadStatusProcessed {
		t.Fatalf("duplicate should still see terminal session, got %s", session.Status)
	}
}

func TestSessionStore_MarkProcessedUnknownVideoID(t *testing.T) {
	store, _, cleanup := setupTestStore(t, time.Hour)
	defer cleanup()

	_, _, err := store.MarkProcessed(context.Background(), "foreign-guid", "https://x/playlist.m3u8")
	if err != ErrUnknownVideoID {
		t.Fatalf("expected ErrUnknownVideoID, got %v", err)
	}
}
