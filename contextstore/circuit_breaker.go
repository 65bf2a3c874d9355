package contextstore

import (
	"context"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// CircuitBreakingStore wraps a Store with a core.CircuitBreaker so a
// struggling Redis-backed context collaborator fails fast instead of
// stalling every stage that calls it (spec §5: "External collaborators
// (LLM, context store) are rate-limited"). ContextManager's own Timeout-in-
// Context rule ("empty context_bundle, pipeline continues") only degrades
// gracefully if the call returns quickly, which is exactly what an open
// breaker guarantees.
type CircuitBreakingStore struct {
	inner Store
	cb    core.CircuitBreaker
}

// NewCircuitBreakingStore builds a CircuitBreakingStore.
func NewCircuitBreakingStore(inner Store, cb core.CircuitBreaker) *CircuitBreakingStore {
	return &CircuitBreakingStore{inner: inner, cb: cb}
}

func (s *CircuitBreakingStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]Item, error) {
	var items []Item
	err := s.cb.Execute(ctx, func() error {
		r, err := s.inner.RecentInteractions(ctx, userID, limit)
		if err != nil {
			return err
		}
		items = r
		return nil
	})
	return items, err
}

func (s *CircuitBreakingStore) UserProfile(ctx context.Context, userID string) (*Item, error) {
	var item *Item
	err := s.cb.Execute(ctx, func() error {
		r, err := s.inner.UserProfile(ctx, userID)
		if err != nil {
			return err
		}
		item = r
		return nil
	})
	return item, err
}

func (s *CircuitBreakingStore) SimilarCases(ctx context.Context, queryText string, limit int) ([]Item, error) {
	var items []Item
	err := s.cb.Execute(ctx, func() error {
		r, err := s.inner.SimilarCases(ctx, queryText, limit)
		if err != nil {
			return err
		}
		items = r
		return nil
	})
	return items, err
}

func (s *CircuitBreakingStore) KnowledgeBaseMatch(ctx context.Context, queryText string, limit int) ([]Item, error) {
	var items []Item
	err := s.cb.Execute(ctx, func() error {
		r, err := s.inner.KnowledgeBaseMatch(ctx, queryText, limit)
		if err != nil {
			return err
		}
		items = r
		return nil
	})
	return items, err
}
