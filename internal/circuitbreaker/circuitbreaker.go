// Package circuitbreaker guards calls to the upstream registry. The breaker
// opens after repeated failures, rejects calls while open, and probes the
// upstream with a limited number of half-open requests before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects every call.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the state name.
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

// Config holds circuit breaker configuration.
type Config struct {
	// Name identifies the guarded upstream in logs and callbacks.
	Name string
	// MaxFailures opens the circuit once this many failures accumulate.
	MaxFailures int
	// FailureThreshold opens the circuit once this failure rate is reached
	// (0-1].
	FailureThreshold float64
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// MaxRequests is the number of probe calls allowed while half-open.
	MaxRequests int
	// Interval clears the closed-state counters periodically.
	Interval time.Duration
	// OnStateChange is invoked on every transition.
	OnStateChange func(from, to State)
	// Logger for state transitions. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		FailureThreshold: 0.5,
		Timeout:          60 * time.Second,
		MaxRequests:      1,
		Interval:         60 * time.Second,
	}
}

// CircuitBreaker tracks upstream call outcomes and trips on failure.
type CircuitBreaker struct {
	config Config
	logger *slog.Logger
	stop   chan struct{}

	mu              sync.RWMutex
	state           State
	failures        int
	successes       int
	requests        int
	lastFailureTime time.Time
	lastStateChange time.Time
	halfOpenSuccess int
	stopped         bool
}

// New creates a circuit breaker, filling in defaults for unset fields.
func New(config Config) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "upstream"
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.FailureThreshold <= 0 || config.FailureThreshold > 1 {
		config.FailureThreshold = 0.5
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	cb := &CircuitBreaker{
		config:          config,
		logger:          config.Logger.With("component", "circuitbreaker", "name", config.Name),
		stop:            make(chan struct{}),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}

	go cb.resetLoop()

	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Allow reports whether a call may proceed, counting it if so.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastStateChange) > cb.config.Timeout {
		cb.changeState(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.requests < cb.config.MaxRequests {
			cb.requests++
			return true
		}
		return false
	default:
		return false
	}
}

// Success records a successful call.
func (cb *CircuitBreaker) Success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	if cb.state == StateHalfOpen {
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.MaxRequests {
			cb.changeState(StateClosed)
		}
	}
}

// Failure records a failed call.
func (cb *CircuitBreaker) Failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.changeState(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens the circuit
		cb.changeState(StateOpen)
	}
}

// Call executes fn behind the breaker. A rejected call returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(ctx); err != nil {
		cb.Failure()
		return err
	}

	cb.Success()
	return nil
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
	cb.halfOpenSuccess = 0

	if cb.state != StateClosed {
		cb.changeState(StateClosed)
	}
}

// Stop ends the periodic counter reset. The breaker remains usable.
func (cb *CircuitBreaker) Stop() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.stopped {
		cb.stopped = true
		close(cb.stop)
	}
}

// Stats is a snapshot of the breaker's counters.
type Stats struct {
	State           State
	Failures        int
	Successes       int
	Requests        int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// Stats returns the current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		Requests:        cb.requests,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// shouldOpen reports whether the closed-state failure criteria are met.
// Caller holds mu.
func (cb *CircuitBreaker) shouldOpen() bool {
	total := cb.failures + cb.successes
	if total == 0 {
		return false
	}
	if cb.failures >= cb.config.MaxFailures {
		return true
	}
	return float64(cb.failures)/float64(total) >= cb.config.FailureThreshold
}

// changeState transitions the breaker and resets the counters the new state
// relies on. Caller holds mu.
func (cb *CircuitBreaker) changeState(newState State) {
	if cb.state == newState {
		return
	}

	from := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()

	switch newState {
	case StateClosed:
		cb.failures = 0
		cb.successes = 0
		cb.requests = 0
		cb.halfOpenSuccess = 0
	case StateHalfOpen:
		cb.requests = 0
		cb.halfOpenSuccess = 0
	}

	cb.logger.Info("Circuit state changed", "from", from.String(), "to", newState.String())

	if cb.config.OnStateChange != nil {
		// Callbacks must not block state handling
		go cb.config.OnStateChange(from, newState)
	}
}

// resetLoop clears closed-state counters every Interval so old failures age
// out.
func (cb *CircuitBreaker) resetLoop() {
	ticker := time.NewTicker(cb.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cb.mu.Lock()
			if cb.state == StateClosed {
				cb.failures = 0
				cb.successes = 0
			}
			cb.mu.Unlock()
		case <-cb.stop:
			return
		}
	}
}
