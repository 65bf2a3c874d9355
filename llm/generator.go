// Package llm provides the external LLM collaborator abstraction (spec
// §6.2): generate(prompt, system_instructions, options) -> {text,
// tokens_used, model_confidence?}, with transient/terminal failure
// classification, retry-safe idempotency via a caller-supplied nonce,
// a max-tokens cap, and a deadline.
package llm

import (
	"context"
	"time"
)

// GenerateOptions are the per-call knobs the pipeline stages pass.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
	// Nonce lets the caller supply the same idempotency key across
	// retries of the same logical call, so a provider that supports
	// request deduplication can avoid double-billing/double-generating.
	Nonce    string
	Deadline time.Duration
}

// GenerateResult is the collaborator's response.
type GenerateResult struct {
	Text            string
	TokensUsed      int
	ModelConfidence *float64
}

// Generator is the LLM collaborator contract every pipeline stage that
// needs generation (Chatbot, QualityGate rewrites, FrustrationAnalyzer's
// optional LLM score) depends on, never a concrete provider.
type Generator interface {
	Generate(ctx context.Context, prompt, systemInstructions string, opts GenerateOptions) (GenerateResult, error)
}
