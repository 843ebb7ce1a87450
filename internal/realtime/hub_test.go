package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestHub(t *testing.T) (*Hub, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("failed to connect to test redis: %v", err)
	}
	pubsub := NewRedisPubSub(client, zap.NewNop())
	hub := NewHub(zap.NewNop(), pubsub, pubsub)
	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return hub, cleanup
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		hub:    hub,
		send:   make(chan WSMessage, 8),
		logger: zap.NewNop(),
	}
}

// countDeliveries drains one expected message and then watches for stragglers.
func countDeliveries(t *testing.T, c *Client) int {
	t.Helper()
	got := 0
	select {
	case <-c.send:
		got++
	case <-time.After(2 * time.Second):
		return got
	}
	for {
		select {
		case <-c.send:
			got++
		case <-time.After(300 * time.Millisecond):
			return got
		}
	}
}

func TestHub_PublishToUserDeliversOnce(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()

	userID := uuid.New()
	client := newTestClient(hub, userID)
	hub.Register(client)
	defer hub.Unregister(client)

	hub.PublishToUser(userID, "video_upload_status", map[string]string{"upload_id": "up-1", "status": "processed"})

	// The publishing instance holds this connection AND subscribes to the
	// user's channel; delivery must still happen exactly once.
	if got := countDeliveries(t, client); got != 1 {
		t.Fatalf("expected exactly one delivery per event, got %d", got)
	}
}

func TestHub_PublishToUserReachesAllConnections(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()

	userID := uuid.New()
	first := newTestClient(hub, userID)
	second := newTestClient(hub, userID)
	hub.Register(first)
	hub.Register(second)
	defer hub.Unregister(first)
	defer hub.Unregister(second)

	hub.PublishToUser(userID, "video_upload_status", map[string]string{"upload_id": "up-2"})

	if got := countDeliveries(t, first); got != 1 {
		t.Fatalf("first connection: expected 1 delivery, got %d", got)
	}
	if got := countDeliveries(t, second); got != 1 {
		t.Fatalf("second connection: expected 1 delivery, got %d", got)
	}
}

func TestHub_PublishToUserWithoutRedisFallsBackLocally(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil, nil)

	userID := uuid.New()
	client := newTestClient(hub, userID)
	hub.Register(client)
	defer hub.Unregister(client)

	hub.PublishToUser(userID, "video_upload_status", map[string]string{"upload_id": "up-3"})

	if got := countDeliveries(t, client); got != 1 {
		t.Fatalf("expected 1 local delivery without redis, got %d", got)
	}
}

func TestHub_PublishToUserSkipsOtherUsers(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()

	owner := uuid.New()
	bystander := uuid.New()
	ownerClient := newTestClient(hub, owner)
	otherClient := newTestClient(hub, bystander)
	hub.Register(ownerClient)
	hub.Register(otherClient)
	defer hub.Unregister(ownerClient)
	defer hub.Unregister(otherClient)

	hub.PublishToUser(owner, "video_upload_status", map[string]string{"upload_id": "up-4"})

	if got := countDeliveries(t, ownerClient); got != 1 {
		t.Fatalf("owner: expected 1 delivery, got %d", got)
	}
	select {
	case <-otherClient.send:
		t.Fatal("event leaked to another user's connection")
	case <-time.After(300 * time.Millisecond):
	}
}
