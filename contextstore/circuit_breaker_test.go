package contextstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/resilience"
)

type failingStore struct{ err error }

func (f *failingStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]Item, error) {
	return nil, f.err
}
func (f *failingStore) UserProfile(ctx context.Context, userID string) (*Item, error) { return nil, f.err }
func (f *failingStore) SimilarCases(ctx context.Context, queryText string, limit int) ([]Item, error) {
	return nil, f.err
}
func (f *failingStore) KnowledgeBaseMatch(ctx context.Context, queryText string, limit int) ([]Item, error) {
	return nil, f.err
}

func TestCircuitBreakingStoreOpensAfterRepeatedFailures(t *testing.T) {
	inner := &failingStore{err: errors.New("redis unavailable")}
	cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
		Name:   "context-store",
		Config: core.ResilienceConfig{Enabled: true, Threshold: 2, Timeout: time.Second, HalfOpenRequests: 1},
	})
	store := NewCircuitBreakingStore(inner, cb)

	for i := 0; i < 2; i++ {
		if _, err := store.RecentInteractions(context.Background(), "user-1", 5); err == nil {
			t.Fatalf("RecentInteractions() attempt %d error = nil, want failure", i)
		}
	}

	if _, err := store.RecentInteractions(context.Background(), "user-1", 5); !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("RecentInteractions() on open breaker error = %v, want ErrCircuitBreakerOpen", err)
	}
}
