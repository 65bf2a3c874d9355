package contextstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// indexedText is the bleve document shape indexed for full-text search;
// the full Item content is kept separately and joined back in by ID.
type indexedText struct {
	Text string `json:"text"`
}

// MemoryStore is an in-process Store. Recent interactions and user
// profiles are plain maps (no search needed, lookup is by exact key);
// similar_cases and knowledge_base_match are served by an in-memory
// bleve full-text index, since both require ranking free-text queries
// against a corpus rather than an exact-key lookup.
type MemoryStore struct {
	mu sync.RWMutex

	interactions map[string][]Item
	profiles     map[string]*Item

	cases      map[string]Item
	casesIndex bleve.Index

	knowledgeBase map[string]Item
	kbIndex       bleve.Index

	logger core.Logger
}

// NewMemoryStore creates an empty store with fresh in-memory bleve indexes.
func NewMemoryStore(logger core.Logger) (*MemoryStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	casesIndex, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("contextstore.NewMemoryStore: cases index: %w", err)
	}
	kbIndex, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("contextstore.NewMemoryStore: knowledge base index: %w", err)
	}

	return &MemoryStore{
		interactions:  make(map[string][]Item),
		profiles:      make(map[string]*Item),
		cases:         make(map[string]Item),
		casesIndex:    casesIndex,
		knowledgeBase: make(map[string]Item),
		kbIndex:       kbIndex,
		logger:        logger,
	}, nil
}

// RecordInteraction appends an interaction to a user's history, most
// recent last. Not part of the Store contract (which is read-only) —
// it seeds history for callers outside the pipeline, which never
// writes to the store.
func (s *MemoryStore) RecordInteraction(userID string, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[userID] = append(s.interactions[userID], item)
}

// SetUserProfile seeds or replaces a user's profile record.
func (s *MemoryStore) SetUserProfile(userID string, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := item
	s.profiles[userID] = &cp
}

// IndexCase adds a resolved-case record to the similar_cases corpus.
func (s *MemoryStore) IndexCase(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[item.ID] = item
	return s.casesIndex.Index(item.ID, indexedText{Text: item.Text})
}

// IndexKnowledgeBaseEntry adds an article to the knowledge_base_match corpus.
func (s *MemoryStore) IndexKnowledgeBaseEntry(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledgeBase[item.ID] = item
	return s.kbIndex.Index(item.ID, indexedText{Text: item.Text})
}

// RecentInteractions returns the most recent limit interactions for a user.
func (s *MemoryStore) RecentInteractions(ctx context.Context, userID string, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.interactions[userID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	result := make([]Item, limit)
	copy(result, all[len(all)-limit:])
	return result, nil
}

// UserProfile returns the user's profile record, if any.
func (s *MemoryStore) UserProfile(ctx context.Context, userID string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *profile
	return &cp, nil
}

// SimilarCases runs a bleve match query over the indexed case corpus
// and returns the top-scoring results as Items.
func (s *MemoryStore) SimilarCases(ctx context.Context, queryText string, limit int) ([]Item, error) {
	return s.search(s.casesIndex, s.cases, queryText, limit)
}

// KnowledgeBaseMatch runs a bleve match query over the indexed knowledge
// base corpus. This is the seam SPEC_FULL.md documents where an external
// search-augmentation plug-in could be substituted; none ships here.
func (s *MemoryStore) KnowledgeBaseMatch(ctx context.Context, queryText string, limit int) ([]Item, error) {
	return s.search(s.kbIndex, s.knowledgeBase, queryText, limit)
}

func (s *MemoryStore) search(index bleve.Index, items map[string]Item, queryText string, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	query := bleve.NewMatchQuery(queryText)
	request := bleve.NewSearchRequestOptions(query, limit, 0, false)

	result, err := index.Search(request)
	if err != nil {
		return nil, fmt.Errorf("contextstore.search: %w", err)
	}

	matches := make([]Item, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if item, ok := items[hit.ID]; ok {
			matches = append(matches, item)
		}
	}
	return matches, nil
}

var _ Store = (*MemoryStore)(nil)
