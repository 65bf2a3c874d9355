// Package resilience holds the protection primitives external
// collaborator calls (the LLM generator, the context store) are wrapped
// in: exponential-backoff retry and a circuit breaker (spec §4.2, §5).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// RetryConfig configures Retry's backoff schedule.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig matches spec §4.2's "retry up to N_gen times (default
// 3) with exponential backoff."
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry calls fn up to config.MaxAttempts times, sleeping an exponentially
// growing delay (with optional jitter to avoid synchronized retries across
// collaborator clients) between attempts. It returns fn's last error wrapped
// in core.ErrMaxRetriesExceeded once the budget is spent, or ctx.Err() if
// the caller's context is cancelled first.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}
		if config.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(attempt)))
			delay += jitter
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker composes Retry with a core.CircuitBreaker:
// before each attempt it checks CanExecute, short-circuiting the whole
// retry loop once the breaker has opened rather than spending the retry
// budget hammering a collaborator that is already failing open.
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb core.CircuitBreaker, fn func() error) error {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var openErr error
	err := Retry(retryCtx, config, func() error {
		err := cb.Execute(ctx, fn)
		if errors.Is(err, core.ErrCircuitBreakerOpen) {
			openErr = err
			cancel()
		}
		return err
	})
	if openErr != nil {
		return openErr
	}
	return err
}
