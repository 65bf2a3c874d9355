package contextstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// RedisStore serves recent_interactions and user_profile from Redis (DB
// core.RedisDBContextStore), since both are exact-key lookups Redis
// handles natively. similar_cases and knowledge_base_match need
// free-text ranking, which Redis alone (without RediSearch, not present
// in this stack) cannot do well, so those two delegate to a Search
// collaborator — in practice the bleve-backed MemoryStore run as a
// local search index alongside the Redis-backed interaction history.
type RedisStore struct {
	client *core.RedisClient
	search Store
	logger core.Logger
}

// NewRedisStore wraps an already-connected namespaced Redis client.
// search is used for SimilarCases/KnowledgeBaseMatch; pass a
// *MemoryStore seeded with the case/knowledge-base corpus.
func NewRedisStore(client *core.RedisClient, search Store, logger core.Logger) *RedisStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisStore{client: client, search: search, logger: logger}
}

func interactionsKey(userID string) string { return "interactions:" + userID }
func profileKey(userID string) string      { return "profile:" + userID }

// RecordInteraction appends to a user's interaction list (RPUSH),
// trimmed to the most recent 200 entries.
func (s *RedisStore) RecordInteraction(ctx context.Context, userID string, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("contextstore.RecordInteraction: %w", err)
	}
	key := s.client.Key(interactionsKey(userID))
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -200, -1)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("contextstore.RecordInteraction %s: %w", userID, err)
	}
	return nil
}

// SetUserProfile stores a user's profile record as a JSON blob.
func (s *RedisStore) SetUserProfile(ctx context.Context, userID string, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("contextstore.SetUserProfile: %w", err)
	}
	return s.client.Set(ctx, profileKey(userID), data, 0)
}

// RecentInteractions returns the last `limit` interactions in
// chronological order.
func (s *RedisStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	key := s.client.Key(interactionsKey(userID))
	raw, err := s.client.Raw().LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("contextstore.RecentInteractions %s: %w", userID, err)
	}

	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		var item Item
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// UserProfile returns the user's profile record, if any.
func (s *RedisStore) UserProfile(ctx context.Context, userID string) (*Item, error) {
	data, err := s.client.Get(ctx, profileKey(userID))
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("contextstore.UserProfile %s: %w", userID, err)
	}
	var item Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, fmt.Errorf("contextstore.UserProfile %s: %w", userID, err)
	}
	return &item, nil
}

// SimilarCases delegates to the injected search collaborator.
func (s *RedisStore) SimilarCases(ctx context.Context, queryText string, limit int) ([]Item, error) {
	if s.search == nil {
		return nil, nil
	}
	return s.search.SimilarCases(ctx, queryText, limit)
}

// KnowledgeBaseMatch delegates to the injected search collaborator.
func (s *RedisStore) KnowledgeBaseMatch(ctx context.Context, queryText string, limit int) ([]Item, error) {
	if s.search == nil {
		return nil, nil
	}
	return s.search.KnowledgeBaseMatch(ctx, queryText, limit)
}

var _ Store = (*RedisStore)(nil)
