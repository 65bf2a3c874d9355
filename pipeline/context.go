package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/itsneelabh/hitl-orchestrator/contextstore"
	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// ContextManager is the fifth pipeline stage (spec §4.5): retrieves
// candidate records from each context source, scores relevance against
// query_text, and produces four audience-tailored summaries.
type ContextManager struct {
	store      contextstore.Store
	generator  llm.Generator
	perSourceLimit int
	totalLimit     int
	relevanceThreshold float64
	logger     core.Logger
}

// NewContextManager builds a ContextManager stage. generator may be
// nil, in which case summaries always fall back to rule-based templates.
func NewContextManager(store contextstore.Store, generator llm.Generator, perSourceLimit, totalLimit int, relevanceThreshold float64, logger core.Logger) *ContextManager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ContextManager{
		store: store, generator: generator,
		perSourceLimit: perSourceLimit, totalLimit: totalLimit,
		relevanceThreshold: relevanceThreshold, logger: logger,
	}
}

type scoredItem struct {
	source    string
	item      contextstore.Item
	relevance float64
}

// Run sets req.ContextBundle. The caller must hold Acquire("context_manager").
func (m *ContextManager) Run(ctx context.Context, req *request.Request) {
	callCtx, cancel := context.WithTimeout(ctx, core.DeadlineStage)
	defer cancel()

	if m.store == nil {
		req.ContextBundle = &request.ContextBundle{}
		return
	}

	var pooled []scoredItem
	pooled = append(pooled, m.retrieve(callCtx, "recent_interactions", func() ([]contextstore.Item, error) {
		return m.store.RecentInteractions(callCtx, req.UserID, m.perSourceLimit)
	}, req.QueryText)...)
	pooled = append(pooled, m.retrieve(callCtx, "user_profile", func() ([]contextstore.Item, error) {
		profile, err := m.store.UserProfile(callCtx, req.UserID)
		if err != nil || profile == nil {
			return nil, err
		}
		return []contextstore.Item{*profile}, nil
	}, req.QueryText)...)
	pooled = append(pooled, m.retrieve(callCtx, "similar_cases", func() ([]contextstore.Item, error) {
		return m.store.SimilarCases(callCtx, req.QueryText, m.perSourceLimit)
	}, req.QueryText)...)
	pooled = append(pooled, m.retrieve(callCtx, "knowledge_base_match", func() ([]contextstore.Item, error) {
		return m.store.KnowledgeBaseMatch(callCtx, req.QueryText, m.perSourceLimit)
	}, req.QueryText)...)

	kept := make([]scoredItem, 0, len(pooled))
	for _, s := range pooled {
		if s.relevance >= m.relevanceThreshold {
			kept = append(kept, s)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].relevance > kept[j].relevance })
	if len(kept) > m.totalLimit {
		kept = kept[:m.totalLimit]
	}

	sources := make([]string, 0, len(kept))
	relevance := make([]float64, 0, len(kept))
	for _, s := range kept {
		sources = append(sources, s.source+":"+s.item.ID)
		relevance = append(relevance, s.relevance)
	}

	req.ContextBundle = &request.ContextBundle{
		Sources:   sources,
		Relevance: relevance,
		Summaries: m.summarize(callCtx, req, kept),
	}
}

func (m *ContextManager) retrieve(ctx context.Context, source string, fetch func() ([]contextstore.Item, error), queryText string) []scoredItem {
	items, err := fetch()
	if err != nil {
		m.logger.Warn("context source unavailable", map[string]interface{}{"source": source, "error": err.Error()})
		return nil
	}
	out := make([]scoredItem, 0, len(items))
	for _, item := range items {
		out = append(out, scoredItem{source: source, item: item, relevance: cosineOverTokens(queryText, item.Text)})
	}
	return out
}

// cosineOverTokens is the default relevance scorer: cosine similarity
// over the bag-of-words token frequency vectors of the two texts.
func cosineOverTokens(a, b string) float64 {
	va := termFrequencies(a)
	vb := termFrequencies(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, fa := range va {
		normA += fa * fa
		if fb, ok := vb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range vb {
		normB += fb * fb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func termFrequencies(text string) map[string]float64 {
	freqs := make(map[string]float64)
	for _, tok := range normalize(text) {
		freqs[tok]++
	}
	return freqs
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func (m *ContextManager) summarize(ctx context.Context, req *request.Request, kept []scoredItem) request.ContextSummaries {
	if m.generator != nil {
		if summaries, ok := m.llmSummaries(ctx, req, kept); ok {
			return summaries
		}
	}
	return m.ruleBasedSummaries(kept)
}

func (m *ContextManager) llmSummaries(ctx context.Context, req *request.Request, kept []scoredItem) (request.ContextSummaries, bool) {
	var sb strings.Builder
	for _, s := range kept {
		fmt.Fprintf(&sb, "[%s] %s\n", s.source, s.item.Text)
	}
	prompt := fmt.Sprintf("Summarize this retrieved context for a support query %q:\n%s", req.QueryText, sb.String())
	result, err := m.generator.Generate(ctx, prompt, "Summarize factually and concisely.", llm.GenerateOptions{MaxTokens: 256})
	if err != nil {
		m.logger.Warn("context summary generation failed", map[string]interface{}{"error": err.Error()})
		return request.ContextSummaries{}, false
	}
	return request.ContextSummaries{
		ForAI:      result.Text,
		ForHuman:   result.Text,
		ForRouting: result.Text,
		ForQuality: result.Text,
	}, true
}

func (m *ContextManager) ruleBasedSummaries(kept []scoredItem) request.ContextSummaries {
	if len(kept) == 0 {
		return request.ContextSummaries{}
	}
	var forHuman, forAI strings.Builder
	var skillHints []string
	for _, s := range kept {
		fmt.Fprintf(&forHuman, "- %s\n", s.item.Text)
		fmt.Fprintf(&forAI, "%s=%s;", s.source, s.item.ID)
		if s.source == "similar_cases" || s.source == "knowledge_base_match" {
			skillHints = append(skillHints, s.source)
		}
	}
	return request.ContextSummaries{
		ForAI:      forAI.String(),
		ForHuman:   forHuman.String(),
		ForRouting: strings.Join(skillHints, ","),
		ForQuality: fmt.Sprintf("%d supporting records", len(kept)),
	}
}
