// Package resilience guards calls to the remote model with circuit breakers
// and ordered provider failover.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) that
// stops hammering a model endpoint after repeated failures. [FallbackGroup]
// pairs each configured provider with its own breaker and tries them in order,
// and [LLMFallback] exposes a group as a single llm.Provider.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of trial calls through. Enough
	// successes close the breaker, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is the model provider the breaker guards, e.g. "groq".
	Name string

	// MaxFailures is the number of consecutive failed completions in the
	// closed state before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before it lets a
	// trial completion through. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of trial completions allowed while
	// half-open; that many successes close the breaker. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker's name. It runs with the breaker locked and must not call back
	// into it.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker implements the three-state circuit breaker pattern for one
// model provider.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	trials          int
	trialSuccesses  int
}

// NewCircuitBreaker creates a closed [CircuitBreaker]. Zero-value config
// fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Name returns the provider the breaker guards.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. While open it returns
// [ErrCircuitOpen] without calling fn.
//
// A completion abandoned by the caller (context.Canceled) says nothing about
// the provider and is not counted. Deadline overruns are counted: a model
// that never answers within the analysis timeout is unhealthy.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.transition(StateHalfOpen)
	}
	switch {
	case cb.state == StateOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == StateHalfOpen && cb.trials >= cb.halfOpenMax:
		cb.mu.Unlock()
		return ErrCircuitOpen
	}
	trial := cb.state == StateHalfOpen
	if trial {
		cb.trials++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		if trial && cb.state == StateHalfOpen {
			cb.trials--
		}
	case err != nil:
		cb.fail(trial)
	case trial:
		cb.trialSucceeded()
	default:
		cb.consecutiveFail = 0
	}
	return err
}

// fail records a failed completion. Must be called with cb.mu held.
func (cb *CircuitBreaker) fail(trial bool) {
	if trial {
		if cb.state == StateHalfOpen {
			slog.Warn("model provider still failing, circuit re-opened", "provider", cb.name)
			cb.open()
		}
		return
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		slog.Warn("model provider failing, circuit opened",
			"provider", cb.name,
			"consecutive_failures", cb.consecutiveFail,
			"retry_after", cb.resetTimeout)
		cb.open()
	}
}

// trialSucceeded records a successful half-open completion. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) trialSucceeded() {
	if cb.state != StateHalfOpen {
		return
	}
	cb.trialSuccesses++
	if cb.trialSuccesses >= cb.halfOpenMax {
		slog.Info("model provider recovered, circuit closed", "provider", cb.name)
		cb.consecutiveFail = 0
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

// transition moves to state to and resets the trial counters. Must be called
// with cb.mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.trials = 0
	cb.trialSuccesses = 0
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFail = 0
	cb.transition(StateClosed)
	slog.Info("circuit breaker manually reset", "provider", cb.name)
}
