package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Retry() error = %v, want eventual success", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := Retry(context.Background(), config, func() error {
		attempts++
		return errors.New("persistent")
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Retry() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 5, InitialDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry() error = %v, want context.Canceled", err)
	}
	if attempts == 0 || attempts >= 5 {
		t.Errorf("attempts = %d, want somewhere between 1 and 4", attempts)
	}
}

func TestRetryBackoffGrowsExponentially(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 4, InitialDelay: 10 * time.Millisecond, MaxDelay: 200 * time.Millisecond, BackoffFactor: 2.0}

	var delays []time.Duration
	last := time.Now()
	attempts := 0
	_ = Retry(context.Background(), config, func() error {
		attempts++
		now := time.Now()
		if attempts > 1 {
			delays = append(delays, now.Sub(last))
		}
		last = now
		return errors.New("error")
	})

	if len(delays) != 3 {
		t.Fatalf("len(delays) = %d, want 3", len(delays))
	}
	if ratio := float64(delays[1]) / float64(delays[0]); ratio < 1.3 || ratio > 2.7 {
		t.Errorf("delay[1]/delay[0] = %.2f, want roughly 2.0", ratio)
	}
}

func TestRetryRespectsMaxDelay(t *testing.T) {
	config := &RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 25 * time.Millisecond, BackoffFactor: 10.0}

	var delays []time.Duration
	last := time.Now()
	attempts := 0
	_ = Retry(context.Background(), config, func() error {
		attempts++
		now := time.Now()
		if attempts > 1 {
			delays = append(delays, now.Sub(last))
		}
		last = now
		return errors.New("error")
	})

	for i, d := range delays {
		if d > config.MaxDelay*13/10 {
			t.Errorf("delay[%d] = %v, want capped near MaxDelay %v", i, d, config.MaxDelay)
		}
	}
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	if testing.Short() {
		t.Skip("uses default retry delays")
	}
	attempts := 0
	err := Retry(context.Background(), nil, func() error {
		attempts++
		return errors.New("error")
	})

	if err == nil {
		t.Error("Retry() error = nil, want error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want DefaultRetryConfig's MaxAttempts=3", attempts)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()
	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3 (spec §4.2's N_gen)", config.MaxAttempts)
	}
	if !config.JitterEnabled {
		t.Error("JitterEnabled = false, want true")
	}
}

func TestRetryWithCircuitBreakerStopsAfterBreakerOpens(t *testing.T) {
	cb := NewCircuitBreaker(core.CircuitBreakerParams{
		Name: "test",
		Config: core.ResilienceConfig{
			Enabled: true, Threshold: 2, Timeout: 500 * time.Millisecond, HalfOpenRequests: 1,
		},
	})
	retryConfig := &RetryConfig{MaxAttempts: 5, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffFactor: 2.0}

	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), retryConfig, cb, func() error {
		attempts++
		return errors.New("error")
	})

	if err == nil {
		t.Error("RetryWithCircuitBreaker() error = nil, want error")
	}
	if attempts == 0 {
		t.Error("attempts = 0, want at least one call through the breaker before it opened")
	}
	if cb.GetState() != "open" {
		t.Errorf("breaker state = %v, want open after repeated failures", cb.GetState())
	}
}
