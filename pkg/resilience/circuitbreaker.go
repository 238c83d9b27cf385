// Package resilience holds the failure-handling primitives shared by the
// scheduler and worker loops: a circuit breaker around store calls, capped
// exponential backoff, and two-tier execution supervision.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets one probe through.
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

// ErrCircuitBreakerOpen is returned while the breaker rejects calls.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker opens after maxFailures consecutive failures and probes
// again once cooldown has elapsed.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(from, to State)

	mu           sync.Mutex
	state        State
	failures     int
	lastFailTime time.Time
}

// NewCircuitBreaker builds a closed breaker. maxFailures below 1 is treated as 1.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
}

// OnStateChange registers a callback invoked after every transition. It runs
// with the breaker lock released.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) *CircuitBreaker {
	cb.mu.Lock()
	cb.onChange = fn
	cb.mu.Unlock()
	return cb
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitBreakerOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return true
	}
	if cb.now().Sub(cb.lastFailTime) < cb.cooldown {
		cb.mu.Unlock()
		return false
	}
	notify := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	notify := func() {}
	switch {
	case err == nil:
		cb.failures = 0
		if cb.state != StateClosed {
			notify = cb.transitionLocked(StateClosed)
		}
	case cb.state == StateHalfOpen:
		cb.lastFailTime = cb.now()
		cb.failures = 0
		notify = cb.transitionLocked(StateOpen)
	default:
		cb.lastFailTime = cb.now()
		cb.failures++
		if cb.failures >= cb.maxFailures && cb.state == StateClosed {
			notify = cb.transitionLocked(StateOpen)
		}
	}
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	cb.state = to
	onChange := cb.onChange
	if onChange == nil || from == to {
		return func() {}
	}
	return func() { onChange(from, to) }
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	notify()
}
