package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nova-academy/backend/config"
	"github.com/nova-academy/backend/internal/models"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []UploadNotification
}

func (c *captureNotifier) PublishUploadStatus(n UploadNotification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, n)
}

func (c *captureNotifier) all() []UploadNotification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UploadNotification, len(c.events))
	copy(out, c.events)
	return out
}

type webhookFixture struct {
	store    *SessionStore
	notifier *captureNotifier
	router   *gin.Engine
	cleanup  func()
}

// newWebhookFixture wires a webhook handler against miniredis and a stubbed
// Bunny API so ResolvePlaybackURL never leaves the test process.
func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, _, storeCleanup := setupTestStore(t, time.Hour)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))

	bunny := NewBunnyProvider(config.BunnyConfig{
		LibraryID:   "lib-1",
		APIKey:      "key-1",
		CDNHostname: "cdn.example.com",
	}, nil)
	bunny.apiBase = api.URL

	notifier := &captureNotifier{}
	h := NewWebhookHandler(store, bunny, notifier, nil, nil)

	router := gin.New()
	router.POST("/webhooks/bunny", h.HandleBunnyWebhook)

	return &webhookFixture{
		store:    store,
		notifier: notifier,
		router:   router,
		cleanup: func() {
			api.Close()
			storeCleanup()
		},
	}
}

func (f *webhookFixture) post(t *testing.T, payload map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/bunny", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *webhookFixture) seedSession(t *testing.T, uploadID, guid string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	if err := f.store.Init(ctx, uploadID, "lesson-videos/"+uploadID, "mp4", userID); err != nil {
		t.Fatalf("init session: %v", err)
	}
	if err := f.store.RegisterVideoID(ctx, uploadID, guid, "lesson-videos/"+uploadID, "bunny-"+guid, models.ProviderBunny); err != nil {
		t.Fatalf("register video id: %v", err)
	}
	return userID
}

func TestWebhook_FinishedMarksProcessedAndNotifies(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	userID := f.seedSession(t, "up-w1", "guid-w1")

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w1", "Status": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	session, _ := f.store.Get(context.Background(), "up-w1")
	if session.Status != models.UploadStatusProcessed {
		t.Fatalf("expected processed, got %s", session.Status)
	}
	if session.FileURL != "https://cdn.example.com/guid-w1/playlist.m3u8" {
		t.Fatalf("unexpected playback url %q", session.FileURL)
	}

	events := f.notifier.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(events))
	}
	if events[0].UploadID != "up-w1" || events[0].Status != models.UploadStatusProcessed || events[0].UserID != userID {
		t.Fatalf("unexpected notification: %+v", events[0])
	}
}

func TestWebhook_DuplicateFinishedNotifiesOnce(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	f.seedSession(t, "up-w2", "guid-w2")

	for i := 0; i < 3; i++ {
		w := f.post(t, map[string]interface{}{"VideoId": "guid-w2", "Status": 3})
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, w.Code)
		}
	}

	if got := len(f.notifier.all()); got != 1 {
		t.Fatalf("expected exactly 1 notification for duplicate deliveries, got %d", got)
	}
}

func TestWebhook_UnknownVideoIDIsLoud(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	w := f.post(t, map[string]interface{}{"VideoId": "foreign-guid", "Status": 3})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown video id, got %d", w.Code)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("unknown video id must not notify anyone")
	}
}

func TestWebhook_MissingVideoIDRejected(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	w := f.post(t, map[string]interface{}{"Status": 3, "Something": "else"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing video id, got %d", w.Code)
	}
}

func TestWebhook_VideoIDAliases(t *testing.T) {
	for _, key := range []string{"VideoId", "videoId", "VideoGuid", "videoGuid", "guid"} {
		t.Run(key, func(t *testing.T) {
			f := newWebhookFixture(t)
			defer f.cleanup()

			f.seedSession(t, "up-alias", "guid-alias")
			w := f.post(t, map[string]interface{}{key: "guid-alias", "Status": 3})
			if w.Code != http.StatusOK {
				t.Fatalf("alias %s: expected 200, got %d", key, w.Code)
			}
			session, _ := f.store.Get(context.Background(), "up-alias")
			if session.Status != models.UploadStatusProcessed {
				t.Fatalf("alias %s: session not processed", key)
			}
		})
	}
}

func TestWebhook_MissingStatusIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	f.seedSession(t, "up-w3", "guid-w3")

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w3"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ignored"] != true {
		t.Fatalf("expected ignored ack, got %v", body)
	}
}

func TestWebhook_UnmodeledStatusIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	f.seedSession(t, "up-w4", "guid-w4")

	// Status 2 is a transcoding-progress event this system does not model.
	w := f.post(t, map[string]interface{}{"VideoId": "guid-w4", "Status": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	session, _ := f.store.Get(context.Background(), "up-w4")
	if session.Status != models.UploadStatusQueued {
		t.Fatalf("unmodeled status must not mutate the session, got %s", session.Status)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("unmodeled status must not notify")
	}
}

func TestWebhook_StatusAsNumericString(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	f.seedSession(t, "up-w5", "guid-w5")

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w5", "Status": "3"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	session, _ := f.store.Get(context.Background(), "up-w5")
	if session.Status != models.UploadStatusProcessed {
		t.Fatalf("numeric-string status not handled, got %s", session.Status)
	}
}

func TestWebhook_ErrorStatusMarksFailed(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	userID := f.seedSession(t, "up-w6", "guid-w6")

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w6", "Status": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	session, _ := f.store.Get(context.Background(), "up-w6")
	if session.Status != models.UploadStatusFailed {
		t.Fatalf("expected failed, got %s", session.Status)
	}

	events := f.notifier.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 failure notification, got %d", len(events))
	}
	if events[0].Status != models.UploadStatusFailed || events[0].UserID != userID {
		t.Fatalf("unexpected notification: %+v", events[0])
	}
}

func TestWebhook_UploadedStatusIsIntermediate(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	f.seedSession(t, "up-w7", "guid-w7")

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w7", "Status": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	session, _ := f.store.Get(context.Background(), "up-w7")
	if session.Status != models.UploadStatusUploaded {
		t.Fatalf("expected uploaded, got %s", session.Status)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("intermediate status must not notify")
	}
}

func TestWebhook_ExpiredSessionAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()
	ctx := context.Background()

	f.seedSession(t, "up-w8", "guid-w8")

	// Simulate the session record expiring while the correlation index survives.
	if err := f.store.client.Del(ctx, sessionKeyPrefix+"up-w8").Err(); err != nil {
		t.Fatalf("del session: %v", err)
	}

	w := f.post(t, map[string]interface{}{"VideoId": "guid-w8", "Status": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("expired session must be acknowledged, got %d", w.Code)
	}
	if len(f.notifier.all()) != 0 {
		t.Fatal("nobody to notify for an expired session")
	}
}

func TestWebhook_InvalidBodyRejected(t *testing.T) {
	f := newWebhookFixture(t)
	defer f.cleanup()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/bunny", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", w.Code)
	}
}
