package contextstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

func newMemoryStoreForTest(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(nil)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	return store
}

func TestMemoryStoreRecentInteractionsReturnsMostRecent(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.RecordInteraction("u1", Item{ID: string(rune('a' + i)), Text: "msg"})
	}

	items, err := store.RecentInteractions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("RecentInteractions() error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[1].ID != "e" {
		t.Errorf("last item ID = %q, want %q", items[1].ID, "e")
	}
}

func TestMemoryStoreUserProfile(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	if profile, err := store.UserProfile(ctx, "unknown"); err != nil || profile != nil {
		t.Fatalf("UserProfile(unknown) = (%v, %v), want (nil, nil)", profile, err)
	}

	store.SetUserProfile("u1", Item{ID: "u1", Text: "VIP customer, prefers email"})
	profile, err := store.UserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("UserProfile() error: %v", err)
	}
	if profile == nil || profile.Text != "VIP customer, prefers email" {
		t.Fatalf("UserProfile() = %+v, want seeded profile", profile)
	}
}

func TestMemoryStoreSimilarCasesRanksByRelevance(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	if err := store.IndexCase(Item{ID: "case-1", Text: "refund request for duplicate charge on credit card"}); err != nil {
		t.Fatalf("IndexCase() error: %v", err)
	}
	if err := store.IndexCase(Item{ID: "case-2", Text: "password reset link not arriving by email"}); err != nil {
		t.Fatalf("IndexCase() error: %v", err)
	}

	matches, err := store.SimilarCases(ctx, "duplicate charge refund", 5)
	if err != nil {
		t.Fatalf("SimilarCases() error: %v", err)
	}
	if len(matches) == 0 || matches[0].ID != "case-1" {
		t.Fatalf("SimilarCases() = %+v, want case-1 ranked first", matches)
	}
}

func TestMemoryStoreKnowledgeBaseMatch(t *testing.T) {
	store := newMemoryStoreForTest(t)
	ctx := context.Background()

	store.IndexKnowledgeBaseEntry(Item{ID: "kb-1", Text: "How to reset your account password"})

	matches, err := store.KnowledgeBaseMatch(ctx, "reset password", 5)
	if err != nil {
		t.Fatalf("KnowledgeBaseMatch() error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "kb-1" {
		t.Fatalf("KnowledgeBaseMatch() = %+v, want kb-1", matches)
	}
}

func TestRedisStoreRecentInteractionsAndProfile(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr() + "/0",
		DB:        core.RedisDBContextStore,
		Namespace: "hitl-test",
	})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.RecordInteraction(ctx, "u1", Item{ID: string(rune('a' + i)), Text: "msg"}); err != nil {
			t.Fatalf("RecordInteraction() error: %v", err)
		}
	}
	items, err := store.RecentInteractions(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("RecentInteractions() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}

	if err := store.SetUserProfile(ctx, "u1", Item{ID: "u1", Text: "profile"}); err != nil {
		t.Fatalf("SetUserProfile() error: %v", err)
	}
	profile, err := store.UserProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("UserProfile() error: %v", err)
	}
	if profile == nil || profile.Text != "profile" {
		t.Fatalf("UserProfile() = %+v, want profile text", profile)
	}
}

func TestRedisStoreUserProfileMissingReturnsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr() + "/0",
		DB:        core.RedisDBContextStore,
		Namespace: "hitl-test",
	})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, nil, nil)
	profile, err := store.UserProfile(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("UserProfile() error: %v", err)
	}
	if profile != nil {
		t.Fatalf("UserProfile() = %+v, want nil for unknown user", profile)
	}
}
