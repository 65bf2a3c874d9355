// Package contextstore implements the read-only context collaborator
// (spec §6.3): recent_interactions, user_profile, similar_cases, and
// knowledge_base_match, each returning a list of {id, text, metadata,
// timestamp}. The core only ever reads this store; nothing in the
// pipeline writes through it.
package contextstore

import (
	"context"
	"time"
)

// Item is the uniform shape every Store operation returns.
type Item struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Store is the context-collaborator contract (spec §6.3). All four
// operations are read-only; KnowledgeBaseMatch is the documented seam
// where an external search-augmentation plug-in could inject results —
// none ships in this repo (SPEC_FULL.md Open Question "Web-search
// augmentation": decided out of core).
type Store interface {
	RecentInteractions(ctx context.Context, userID string, limit int) ([]Item, error)
	UserProfile(ctx context.Context, userID string) (*Item, error)
	SimilarCases(ctx context.Context, queryText string, limit int) ([]Item, error)
	KnowledgeBaseMatch(ctx context.Context, queryText string, limit int) ([]Item, error)
}
