package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open: the guarded
// dependency (embedding service, remote vector store) has failed enough
// times that further calls are refused until the cooldown elapses.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// CircuitBreaker fails fast once a dependency has proven itself down,
// instead of stacking doomed calls behind their timeouts. After
// resetTimeout it lets a single probe through (half-open); the probe's
// outcome decides whether the circuit closes again or re-opens.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.RWMutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of failures before opening the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 failures, 30 second reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState resolves the effective state: an open circuit whose
// cooldown has elapsed reads as half-open. Callers hold at least a read
// lock.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState() != StateOpen
}

// RecordSuccess records a successful request, closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure records a failed request, opening the circuit once the
// failure budget is spent.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// begin takes the state snapshot for one guarded call, marking half-open
// when a probe is being admitted.
func (cb *CircuitBreaker) begin() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := cb.currentState()
	if state == StateHalfOpen {
		cb.state = StateHalfOpen
	}
	return state
}

// settle records the guarded call's outcome. A half-open probe that fails
// re-opens the circuit immediately rather than burning down the failure
// budget again.
func (cb *CircuitBreaker) settle(state State, err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}
	if state == StateHalfOpen {
		cb.mu.Lock()
		cb.state = StateOpen
		cb.lastFailure = time.Now()
		cb.mu.Unlock()
		return
	}
	cb.RecordFailure()
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	state := cb.begin()
	if state == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	cb.settle(state, err)
	return err
}

// CircuitExecuteWithResult runs fn through the breaker; when the circuit
// is open, or a half-open probe fails, the fallback answers instead.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	state := cb.begin()
	if state == StateOpen {
		return fallback()
	}

	result, err := fn()
	cb.settle(state, err)
	if err != nil {
		if state == StateHalfOpen {
			return fallback()
		}
		return result, err
	}
	return result, nil
}

// ExecuteWithResult is CircuitExecuteWithResult fixed to string results,
// kept for callers predating the generic form.
func (cb *CircuitBreaker) ExecuteWithResult(fn func() (string, error), fallback func() (string, error)) (string, error) {
	return CircuitExecuteWithResult(cb, fn, fallback)
}
