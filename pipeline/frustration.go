package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/itsneelabh/hitl-orchestrator/contextstore"
	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// FrustrationWeights controls how the three component scores combine
// (spec §4.4): w_lex, w_beh, w_llm, redistributed proportionally when
// the LLM score is unavailable.
type FrustrationWeights struct {
	Lexical    float64
	Behavioral float64
	LLM        float64
}

// DefaultFrustrationWeights matches spec §4.4's equal-ish default split.
func DefaultFrustrationWeights() FrustrationWeights {
	return FrustrationWeights{Lexical: 0.4, Behavioral: 0.3, LLM: 0.3}
}

// FrustrationAnalyzer is the fourth pipeline stage (spec §4.4).
type FrustrationAnalyzer struct {
	lexicon   *Lexicon
	generator llm.Generator
	store     contextstore.Store
	weights   FrustrationWeights
	logger    core.Logger
}

// NewFrustrationAnalyzer builds a FrustrationAnalyzer stage. generator
// may be nil, in which case the LLM score is skipped and its weight
// redistributed.
func NewFrustrationAnalyzer(lexicon *Lexicon, generator llm.Generator, store contextstore.Store, weights FrustrationWeights, logger core.Logger) *FrustrationAnalyzer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &FrustrationAnalyzer{lexicon: lexicon, generator: generator, store: store, weights: weights, logger: logger}
}

// Run sets req.FrustrationAssessment. The caller must hold
// Acquire("frustration_analyzer").
func (f *FrustrationAnalyzer) Run(ctx context.Context, req *request.Request) {
	lexScore, lexIndicators := f.lexicon.LexicalScore(req.QueryText)
	behScore, behIndicators := f.lexicon.BehavioralScore(req.QueryText)

	wLex, wBeh, wLLM := f.weights.Lexical, f.weights.Behavioral, f.weights.LLM
	llmScore := 0.0
	haveLLM := false
	if f.generator != nil {
		callCtx, cancel := context.WithTimeout(ctx, core.DeadlineFrustration)
		defer cancel()
		if score, ok := f.llmScore(callCtx, req.QueryText); ok {
			llmScore = score
			haveLLM = true
		}
	}
	if !haveLLM {
		total := wLex + wBeh
		if total > 0 {
			wLex, wBeh = wLex/total, wBeh/total
		}
		wLLM = 0
	}

	combined := clamp10(wLex*lexScore + wBeh*behScore + wLLM*llmScore)
	level := levelFor(combined)

	trend := "unknown"
	if f.store != nil {
		if mean, ok := f.recentMean(ctx, req.UserID); ok {
			switch {
			case combined-mean >= 1.0:
				trend = "rising"
			case mean-combined >= 1.0:
				trend = "falling"
			default:
				trend = "stable"
			}
		}
	}

	indicators := append(append([]string{}, lexIndicators...), behIndicators...)
	req.FrustrationAssessment = &request.FrustrationAssessment{
		Level:      string(level),
		Score:      combined,
		Trend:      trend,
		Indicators: indicators,
	}

	if level == core.FrustrationCritical && req.QualityAssessment != nil && req.QualityAssessment.Verdict != string(core.QualityHumanIntervention) {
		req.QualityAssessment.Verdict = string(core.QualityHumanIntervention)
	}
}

func levelFor(score float64) core.FrustrationLevel {
	switch {
	case score < 3:
		return core.FrustrationLow
	case score < 6:
		return core.FrustrationModerate
	case score < 8:
		return core.FrustrationHigh
	default:
		return core.FrustrationCritical
	}
}

func (f *FrustrationAnalyzer) llmScore(ctx context.Context, queryText string) (float64, bool) {
	prompt := "On a scale of 0 to 10, how frustrated does this customer sound? Reply with only the number.\n" + queryText
	result, err := f.generator.Generate(ctx, prompt, "You are a sentiment scoring assistant.", llm.GenerateOptions{
		MaxTokens: 8,
		Deadline:  core.DeadlineFrustration,
	})
	if err != nil {
		f.logger.Warn("frustration llm score unavailable", map[string]interface{}{"error": err.Error()})
		return 0, false
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(result.Text), 64)
	if err != nil {
		return 0, false
	}
	return clamp10(score), true
}

func (f *FrustrationAnalyzer) recentMean(ctx context.Context, userID string) (float64, bool) {
	items, err := f.store.RecentInteractions(ctx, userID, 5)
	if err != nil || len(items) == 0 {
		return 0, false
	}
	sum := 0.0
	n := 0
	for _, item := range items {
		if raw, ok := item.Metadata["frustration_score"]; ok {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
