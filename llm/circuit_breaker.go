package llm

import (
	"context"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// CircuitBreakingGenerator wraps a Generator with a core.CircuitBreaker so
// a collaborator that is failing open gets bypassed immediately instead of
// spending every caller's deadline discovering the same outage (spec §5:
// "External collaborators (LLM, context store) are rate-limited"). It is
// meant to sit underneath RetryingGenerator: each retry attempt goes
// through the breaker, and a breaker trip short-circuits the remaining
// retry budget.
type CircuitBreakingGenerator struct {
	inner Generator
	cb    core.CircuitBreaker
}

// NewCircuitBreakingGenerator builds a CircuitBreakingGenerator.
func NewCircuitBreakingGenerator(inner Generator, cb core.CircuitBreaker) *CircuitBreakingGenerator {
	return &CircuitBreakingGenerator{inner: inner, cb: cb}
}

func (g *CircuitBreakingGenerator) Generate(ctx context.Context, prompt, systemInstructions string, opts GenerateOptions) (GenerateResult, error) {
	var result GenerateResult
	err := g.cb.Execute(ctx, func() error {
		r, err := g.inner.Generate(ctx, prompt, systemInstructions, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
