package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker wraps calls to an external collaborator (spec §5: "External
// collaborators (LLM, context store) are rate-limited") with a closed/open/
// half-open state machine: once a window holds at least Threshold calls and
// half or more of them failed, further calls fail fast for Timeout before a limited number of
// half-open probes decide whether to close again. It implements
// core.CircuitBreaker, so it is interchangeable with any other collaborator
// shield the queue/directory packages accept.
type CircuitBreaker struct {
	params core.CircuitBreakerParams
	logger core.Logger

	mu             sync.Mutex
	state          CircuitState
	stateChangedAt time.Time
	total          int
	failures       int
	halfOpenInUse  int
	halfOpenOK     int
	halfOpenFail   int
}

// NewCircuitBreaker builds a CircuitBreaker from CircuitBreakerParams
// (core/circuit_breaker.go), the config/logger/telemetry bundle every
// collaborator shield in this repo is constructed from.
func NewCircuitBreaker(params core.CircuitBreakerParams) *CircuitBreaker {
	logger := params.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("resilience/circuit_breaker")
	}
	if params.Config.Threshold <= 0 {
		params.Config.Threshold = 5
	}
	if params.Config.Timeout <= 0 {
		params.Config.Timeout = 30 * time.Second
	}
	if params.Config.HalfOpenRequests <= 0 {
		params.Config.HalfOpenRequests = 3
	}
	return &CircuitBreaker{
		params:         params,
		logger:         logger,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection. If the breaker is
// disabled (Config.Enabled == false) it runs fn unconditionally, matching
// spec §6.7's expectation that resilience knobs can be turned off per
// deployment.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.params.Config.Enabled {
		return fn()
	}
	if !cb.CanExecute() {
		cb.recordMetric("circuit_breaker.rejected", 1)
		return fmt.Errorf("circuit breaker %q is open: %w", cb.params.Name, core.ErrCircuitBreakerOpen)
	}

	err := fn()
	cb.complete(err)
	return err
}

// ExecuteWithTimeout runs fn under both circuit breaker protection and a
// context deadline.
func (cb *CircuitBreaker) ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		return cb.Execute(ctx, fn)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return cb.Execute(timeoutCtx, func() error { return fn() })
}

// CanExecute reports whether a call would currently be let through,
// transitioning Open -> HalfOpen once the sleep window has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.stateChangedAt) < cb.params.Config.Timeout {
			return false
		}
		cb.transitionLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenInUse >= cb.params.Config.HalfOpenRequests {
			return false
		}
		cb.halfOpenInUse++
		return true
	default:
		return false
	}
}

// complete folds fn's outcome into the window counters and decides on a
// state transition. RecordSuccess/RecordFailure are the same bookkeeping
// exposed for callers that check CanExecute and report the result
// separately from Execute.
func (cb *CircuitBreaker) complete(err error) {
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInUse--
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.params.Config.HalfOpenRequests {
			cb.transitionLocked(StateClosed)
		}
	case StateClosed:
		cb.total++
	}
	cb.recordMetricLocked("circuit_breaker.calls", 1)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInUse--
		cb.halfOpenFail++
		cb.transitionLocked(StateOpen)
	case StateClosed:
		cb.total++
		cb.failures++
		if cb.total >= cb.params.Config.Threshold && cb.errorRateLocked() >= errorRateThreshold {
			cb.transitionLocked(StateOpen)
		}
	}
	cb.recordMetricLocked("circuit_breaker.failures", 1)
}

// errorRateThreshold is the fraction of calls within a Closed-state window
// that must fail before the breaker opens. Spec §5 only asks for "a
// per-collaborator concurrency cap and a token-bucket rate limit" plus
// degrade-on-cascading-failure; half, matching the teacher's
// DefaultConfig ErrorThreshold, is the trip point used here.
const errorRateThreshold = 0.5

func (cb *CircuitBreaker) errorRateLocked() float64 {
	if cb.total == 0 {
		return 0
	}
	return float64(cb.failures) / float64(cb.total)
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.stateChangedAt = time.Now()
	cb.total, cb.failures = 0, 0
	cb.halfOpenInUse, cb.halfOpenOK, cb.halfOpenFail = 0, 0, 0
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"name": cb.params.Name, "from": from.String(), "to": to.String(),
	})
	cb.recordMetricLocked("circuit_breaker.state_change", 1)
}

// GetState returns the current state as a string, matching
// core.CircuitBreaker's contract.
func (cb *CircuitBreaker) GetState() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}

// GetMetrics returns a snapshot of the window counters for the control
// surface / debugging (spec §6.6's status operation reports per-collaborator
// health alongside queue and agent counts).
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":            cb.params.Name,
		"state":           cb.state.String(),
		"total":           cb.total,
		"failures":        cb.failures,
		"half_open_in_use": cb.halfOpenInUse,
	}
}

// Reset forces the breaker back to Closed with empty counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) recordMetric(name string, value float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recordMetricLocked(name, value)
}

func (cb *CircuitBreaker) recordMetricLocked(name string, value float64) {
	if cb.params.Telemetry == nil {
		return
	}
	cb.params.Telemetry.RecordMetric(name, value, map[string]string{"name": cb.params.Name})
}
