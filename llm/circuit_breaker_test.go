package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/resilience"
)

func TestCircuitBreakingGeneratorPassesThroughWhenClosed(t *testing.T) {
	inner := NewMockGenerator(GenerateResult{Text: "hi"})
	cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
		Name:   "llm",
		Config: core.ResilienceConfig{Enabled: true, Threshold: 5, Timeout: time.Second, HalfOpenRequests: 1},
	})
	gen := NewCircuitBreakingGenerator(inner, cb)

	result, err := gen.Generate(context.Background(), "prompt", "", GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Text != "hi" {
		t.Errorf("Text = %q, want %q", result.Text, "hi")
	}
}

func TestCircuitBreakingGeneratorOpensAfterRepeatedFailures(t *testing.T) {
	inner := &MockGenerator{Err: errors.New("unavailable")}
	cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
		Name:   "llm",
		Config: core.ResilienceConfig{Enabled: true, Threshold: 2, Timeout: time.Second, HalfOpenRequests: 1},
	})
	gen := NewCircuitBreakingGenerator(inner, cb)

	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), "prompt", "", GenerateOptions{}); err == nil {
			t.Fatalf("Generate() attempt %d error = nil, want failure", i)
		}
	}

	callsBefore := len(inner.Calls)
	if _, err := gen.Generate(context.Background(), "prompt", "", GenerateOptions{}); !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("Generate() on open breaker error = %v, want ErrCircuitBreakerOpen", err)
	}
	if len(inner.Calls) != callsBefore {
		t.Error("inner generator was called despite the breaker being open")
	}
}
