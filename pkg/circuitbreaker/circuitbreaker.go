package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is wrapped into every rejection so callers can distinguish a
// fail-fast from a real execution failure.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker position. Closed passes requests through, Open
// rejects them outright, HalfOpen lets a bounded number of probes through
// to find out whether the dependency recovered.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// Config tunes the breaker. Failures must be consecutive to trip it: any
// success in the closed state starts the count over.
type Config struct {
	FailureThreshold    int           // consecutive failures that trip the breaker
	SuccessThreshold    int           // successes in half-open needed to close again
	Timeout             time.Duration // how long open lasts before probing
	MaxRequestsHalfOpen int           // probe budget while half-open
}

// DefaultConfig returns the tuning used when the caller has no opinion.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker guards calls to an unreliable dependency. The zero value
// is not usable; construct with New.
type CircuitBreaker struct {
	config Config

	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	changedAt   time.Time

	onStateChange func(from, to State)
}

// New creates a closed breaker.
func New(config Config) *CircuitBreaker {
	return &CircuitBreaker{
		config:    config,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// OnStateChange registers a transition callback. It runs on its own
// goroutine so it may safely call back into the breaker.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := cb.ExecuteWithResult(ctx, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// ExecuteWithResult runs fn through the breaker and passes its result
// through. A rejected call never reaches fn.
func (cb *CircuitBreaker) ExecuteWithResult(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cb.admit() {
		return nil, fmt.Errorf("%w, request rejected while %s", ErrOpen, cb.State())
	}

	result, err := fn()
	if err != nil {
		cb.recordFailure()
		return nil, fmt.Errorf("circuit breaker execution failed: %w", err)
	}

	cb.recordSuccess()
	return result, nil
}

// admit decides whether a request may proceed, moving the breaker from
// open to half-open once the timeout has passed.
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.changedAt) < cb.config.Timeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probes++
		return true

	case StateHalfOpen:
		if cb.probes >= cb.config.MaxRequestsHalfOpen {
			return false
		}
		cb.probes++
		return true

	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe means the dependency is still down.
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes++

	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.transition(StateClosed)
	}
}

// transition moves to a new state and resets the per-state counters.
// Caller holds the lock.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}

	from := cb.state
	cb.state = to
	cb.changedAt = time.Now()
	cb.failures = 0
	cb.successes = 0
	cb.probes = 0

	if cb.onStateChange != nil {
		go cb.onStateChange(from, to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker closed regardless of history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// Stats is a point-in-time copy of the breaker's internals.
type Stats struct {
	State       State
	Failures    int
	Successes   int
	Probes      int
	LastFailure time.Time
	ChangedAt   time.Time
}

// GetStats returns the current counters.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:       cb.state,
		Failures:    cb.failures,
		Successes:   cb.successes,
		Probes:      cb.probes,
		LastFailure: cb.lastFailure,
		ChangedAt:   cb.changedAt,
	}
}
