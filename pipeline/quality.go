package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// QualityGate is the third pipeline stage (spec §4.3): scores the
// chatbot's response across five dimensions and decides whether it is
// adequate, needs an LLM-assisted rewrite, or requires human
// intervention.
type QualityGate struct {
	generator llm.Generator
	cfg       core.QualityConfig
	thresholds core.ThresholdsConfig
	logger    core.Logger
}

// NewQualityGate builds a QualityGate stage.
func NewQualityGate(generator llm.Generator, cfg core.QualityConfig, thresholds core.ThresholdsConfig, logger core.Logger) *QualityGate {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &QualityGate{generator: generator, cfg: cfg, thresholds: thresholds, logger: logger}
}

// Run sets req.QualityAssessment, possibly replacing req.ChatbotOutput.Text
// with an improved rewrite. The caller must hold Acquire("quality_gate").
func (q *QualityGate) Run(ctx context.Context, req *request.Request, now time.Time) {
	if req.ChatbotOutput == nil || req.ChatbotOutput.Text == "" {
		req.QualityAssessment = &request.QualityAssessment{
			Verdict:   string(core.QualityHumanIntervention),
			Reasoning: "no_response",
		}
		return
	}

	dims := q.score(req.QueryText, req.ChatbotOutput.Text)
	combined := q.weighted(dims)

	adjustAttempts := 0
	for {
		switch {
		case combined >= q.thresholds.TAdequate:
			req.QualityAssessment = &request.QualityAssessment{
				Score: combined, Verdict: string(core.QualityAdequate), Dimensions: dims,
			}
			return
		case combined >= q.thresholds.TAdjust && adjustAttempts < q.thresholds.NAdjust:
			rewrite, ok := q.rewrite(ctx, req)
			adjustAttempts++
			if !ok {
				req.QualityAssessment = &request.QualityAssessment{
					Score: combined, Verdict: string(core.QualityHumanIntervention), Dimensions: dims,
					Reasoning: "rewrite_unavailable",
				}
				return
			}
			newDims := q.score(req.QueryText, rewrite)
			newCombined := q.weighted(newDims)
			if newCombined-combined >= 1.5 {
				req.ChatbotOutput.Text = rewrite
				req.AppendMessage(request.RoleQualityRewrite, rewrite, now)
				dims, combined = newDims, newCombined
				continue
			}
			req.QualityAssessment = &request.QualityAssessment{
				Score: combined, Verdict: string(core.QualityHumanIntervention), Dimensions: dims,
				Reasoning: "rewrite_did_not_improve",
			}
			return
		default:
			req.QualityAssessment = &request.QualityAssessment{
				Score: combined, Verdict: string(core.QualityHumanIntervention), Dimensions: dims,
			}
			return
		}
	}
}

// score is a rule-based heuristic over response shape, standing in for
// a rubric the LLM collaborator or a human reviewer could otherwise
// supply; the five outputs remain in [0,10] as the rest of the gate expects.
func (q *QualityGate) score(queryText, responseText string) request.QualityDimensions {
	length := len(responseText)
	accuracy := clamp10(6 + float64(min(length, 400))/100)
	completeness := clamp10(5 + float64(min(length, 600))/120)
	clarity := clamp10(8 - float64(countLong(responseText))*0.5)
	service := clamp10(7)
	contextual := clamp10(6)
	return request.QualityDimensions{
		Accuracy: accuracy, Completeness: completeness, Clarity: clarity,
		Service: service, Contextual: contextual,
	}
}

func (q *QualityGate) weighted(d request.QualityDimensions) float64 {
	return d.Accuracy*q.cfg.AccuracyWeight + d.Completeness*q.cfg.CompletenessWeight +
		d.Clarity*q.cfg.ClarityWeight + d.Service*q.cfg.ServiceWeight + d.Contextual*q.cfg.ContextualWeight
}

func (q *QualityGate) rewrite(ctx context.Context, req *request.Request) (string, bool) {
	rewriteCtx, cancel := context.WithTimeout(ctx, core.DeadlineQualityRewrite)
	defer cancel()

	prompt := fmt.Sprintf("Improve this support response for clarity and completeness.\nCustomer: %s\nResponse: %s",
		req.QueryText, req.ChatbotOutput.Text)
	result, err := q.generator.Generate(rewriteCtx, prompt, systemInstructions, llm.GenerateOptions{
		Nonce:    req.RequestID + ":quality_rewrite",
		Deadline: core.DeadlineQualityRewrite,
	})
	if err != nil {
		q.logger.Warn("quality rewrite failed", map[string]interface{}{"request_id": req.RequestID, "error": err.Error()})
		return "", false
	}
	return result.Text, true
}

func clamp10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func countLong(text string) int {
	n := 0
	for _, w := range splitWords(text) {
		if len(w) > 14 {
			n++
		}
	}
	return n
}

func splitWords(text string) []string {
	return wordPattern.FindAllString(text, -1)
}
