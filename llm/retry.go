package llm

import (
	"context"
	"errors"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/resilience"
)

// RetryingGenerator wraps a Generator with exponential backoff retry on
// transient failures, matching spec §4.2's "retry up to N_gen times
// (default 3) with exponential backoff on transient failure; on
// terminal failure set chatbot_output = null and mark stage error".
// Grounded on resilience.Retry/resilience.DefaultRetryConfig.
type RetryingGenerator struct {
	inner  Generator
	config *resilience.RetryConfig
	logger core.Logger
}

// NewRetryingGenerator wraps inner with retry semantics. A nil config
// falls back to resilience.DefaultRetryConfig (3 attempts).
func NewRetryingGenerator(inner Generator, config *resilience.RetryConfig, logger core.Logger) *RetryingGenerator {
	if config == nil {
		config = resilience.DefaultRetryConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RetryingGenerator{inner: inner, config: config, logger: logger}
}

// Generate retries only on transient failures (core.ErrCollaboratorTransient);
// a terminal failure cancels the retry loop immediately without consuming
// the remaining retry budget, since retrying a terminal error (bad
// request, content policy violation) can never succeed. resilience.Retry
// has no built-in early-stop signal, so a terminal failure cancels a
// child context to make the next loop check exit, and the original error
// is recovered from the closure afterward.
func (g *RetryingGenerator) Generate(ctx context.Context, prompt, systemInstructions string, opts GenerateOptions) (GenerateResult, error) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result GenerateResult
	var terminalErr error
	attempts := 0

	err := resilience.Retry(retryCtx, g.config, func() error {
		attempts++
		r, err := g.inner.Generate(ctx, prompt, systemInstructions, opts)
		if err != nil {
			if errors.Is(err, core.ErrCollaboratorTerminal) {
				terminalErr = err
				cancel()
				return err
			}
			g.logger.Warn("llm generate attempt failed", map[string]interface{}{"attempt": attempts, "error": err.Error()})
			return err
		}
		result = r
		return nil
	})

	if terminalErr != nil {
		return GenerateResult{}, terminalErr
	}
	if err != nil {
		return GenerateResult{}, err
	}
	return result, nil
}
