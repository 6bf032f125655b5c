// Package resilience guards the container runtime against cascading
// failures and cleans up after partially-failed runs: a circuit breaker,
// a startup preflight checker, an orphan-resource cleaner, a port
// conflict resolver, a container restart guardian and a network
// connectivity verifier.
package resilience

import (
	"errors"
	"sync"
	"time"

	"e2eforge/internal/eventbus"
)

const subsystem = "Resilience"

// State is one of the circuit breaker's three states.
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

// ErrCircuitOpen is returned by Execute while the breaker is open, without
// running the guarded operation.
var ErrCircuitOpen = errors.New("CIRCUIT_OPEN")

const historyCap = 20

// FailureRecord is one failed call kept in the breaker's bounded history.
type FailureRecord struct {
	Error     error
	Timestamp time.Time
}

// StateChangeEvent is emitted on the resilience event channel whenever the
// breaker transitions.
type StateChangeEvent struct {
	From           State
	To             State
	FailureCount   int
	LastError      error
	ProbeSucceeded bool
}

// CircuitBreakerConfig tunes a breaker's thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures before opening
	ResetTimeout     time.Duration // time in open state before a half-open probe is allowed
	Bus              *eventbus.Bus // optional; transitions are emitted on ChannelResilience if set
}

// CircuitBreaker is a closed/open/half-open state machine guarding a single
// operation. Closed executes calls normally; a run of consecutive
// failures reaching the threshold trips it Open, where every call fails
// fast with ErrCircuitOpen; after the reset timeout, exactly one probe call
// is let through in Half-open — success closes it, failure reopens it.
type CircuitBreaker struct {
	mu               sync.Mutex
	failureThreshold int
	resetTimeout     time.Duration
	bus              *eventbus.Bus

	state        State
	failureCount int
	history      []FailureRecord
	openedAt     time.Time
	probeInUse   bool
}

// New returns a closed circuit breaker.
func New(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		bus:              cfg.Bus,
		state:            StateClosed,
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute runs fn if the breaker allows it, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.resetTimeout {
			cb.transition(StateHalfOpen, false, nil)
			cb.probeInUse = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probeInUse {
			return ErrCircuitOpen
		}
		cb.probeInUse = true
	}
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.probeInUse = false
		if err == nil {
			cb.transition(StateClosed, true, nil)
		} else {
			cb.recordFailure(err)
			cb.transition(StateOpen, false, err)
		}
	case StateClosed:
		if err == nil {
			cb.failureCount = 0
		} else {
			cb.recordFailure(err)
			cb.failureCount++
			if cb.failureCount >= cb.failureThreshold {
				cb.transition(StateOpen, false, err)
			}
		}
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.history = append(cb.history, FailureRecord{Error: err, Timestamp: time.Now()})
	if len(cb.history) > historyCap {
		cb.history = cb.history[len(cb.history)-historyCap:]
	}
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(to State, probeSucceeded bool, lastErr error) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if to == StateClosed {
		cb.failureCount = 0
		cb.history = nil
	}

	if cb.bus != nil {
		cb.bus.Emit(eventbus.ChannelResilience, StateChangeEvent{
			From:           from,
			To:             to,
			FailureCount:   cb.failureCount,
			LastError:      lastErr,
			ProbeSucceeded: probeSucceeded,
		})
	}
}

// Reset forces the breaker back to Closed, clearing history and counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed, false, nil)
}

// History returns a copy of the breaker's bounded failure history (most
// recent last).
func (cb *CircuitBreaker) History() []FailureRecord {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make([]FailureRecord, len(cb.history))
	copy(out, cb.history)
	return out
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}
