package core

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisClient(t *testing.T, db int, namespace string) *RedisClient {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr() + "/0",
		DB:        db,
		Namespace: namespace,
	})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisClientGetSetDel(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t, RedisDBQueue, "hitl-test")

	if err := client.Set(ctx, "entry:1", "queued", 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err := client.Get(ctx, "entry:1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != "queued" {
		t.Errorf("Get() = %q, want %q", got, "queued")
	}

	if err := client.Del(ctx, "entry:1"); err != nil {
		t.Fatalf("Del() error: %v", err)
	}
	if _, err := client.Get(ctx, "entry:1"); err == nil {
		t.Error("expected error reading a deleted key")
	}
}

func TestRedisClientNamespacesKeys(t *testing.T) {
	client := newTestRedisClient(t, RedisDBDirectory, "hitl-test")

	if got, want := client.Key("agent:1"), "hitl-test:agent:1"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestRedisClientSetWithTTL(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t, RedisDBContextStore, "")

	if err := client.Set(ctx, "k", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if got, err := client.Get(ctx, "k"); err != nil || got != "v" {
		t.Fatalf("Get() = (%q, %v), want (v, nil)", got, err)
	}
}

func TestNewRedisClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewRedisClient(RedisClientOptions{}); err == nil {
		t.Fatal("expected error for empty RedisURL")
	}
}

func TestGetRedisDBName(t *testing.T) {
	tests := []struct {
		db   int
		want string
	}{
		{RedisDBDirectory, "Agent Directory"},
		{RedisDBQueue, "Request Queue"},
		{RedisDBContextStore, "Context Store"},
		{RedisDBCircuitBreaker, "Circuit Breaker"},
		{7, "Reserved DB 7"},
	}
	for _, tt := range tests {
		if got := GetRedisDBName(tt.db); got != tt.want {
			t.Errorf("GetRedisDBName(%d) = %q, want %q", tt.db, got, tt.want)
		}
	}
}

func TestIsReservedDB(t *testing.T) {
	if IsReservedDB(RedisDBQueue) {
		t.Error("DB 1 (queue) should not be reserved")
	}
	if !IsReservedDB(RedisDBReservedStart) {
		t.Error("RedisDBReservedStart should be reserved")
	}
}
