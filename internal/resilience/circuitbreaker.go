// Package resilience provides circuit breaker and backend failover primitives.
//
// The central type is [CircuitBreaker], a classic three-state breaker
// (closed, open, half-open). The mixer guards every emitter with one so that
// a pairing whose effects keep failing stops costing block time, and
// [FallbackGroup] opens output backends in order so that a missing audio
// device falls back to the next configured sink.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// refuses calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen refuses calls until the cool-down passes.
	StateOpen
	// StateHalfOpen admits a bounded number of trial calls. One failed trial
	// reopens the breaker; HalfOpenMax successful trials close it.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

// String returns the state's name as used in logs and metric attributes.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs, e.g. "emitter/3" or "sink/oto".
	Name string

	// MaxFailures is the failure streak that trips a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker admits trial calls. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial budget of the half-open state. Default 3.
	HalfOpenMax int

	// OnStateChange runs after each transition while the breaker is locked.
	// It must not call back into the breaker.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

func (c *CircuitBreakerConfig) defaults() {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMax <= 0 {
		c.HalfOpenMax = 3
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// CircuitBreaker is a three-state breaker. The mixer wraps each emitter's
// spatialization in one; it satisfies mixer.Guard.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	streak   int       // consecutive failures while closed
	openedAt time.Time // time of the failure that last opened the breaker
	trials   int       // trials admitted in the current half-open window
	passed   int       // trials that succeeded in that window
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.defaults()
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker refuses it, in which case it returns
// [ErrCircuitOpen]. The error of fn is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.settle(trial, err)
	return err
}

// admit decides whether a call may run and whether it counts as a trial.
func (cb *CircuitBreaker) admit() (trial, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if !cb.cooledDown() {
			return false, false
		}
		cb.transition(StateHalfOpen)
		cb.trials, cb.passed = 0, 0
		slog.Info("circuit breaker half-open", "name", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, false
		}
		cb.trials++
		return true, true
	}
	return false, true
}

// settle records the outcome of an admitted call.
func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && trial:
		cb.trip()
		slog.Warn("circuit breaker trial failed, reopening", "name", cb.cfg.Name)
	case err != nil:
		cb.streak++
		if cb.streak >= cb.cfg.MaxFailures && cb.state == StateClosed {
			cb.trip()
			slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.streak)
		}
	case trial:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax && cb.state == StateHalfOpen {
			cb.clear()
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
	default:
		cb.streak = 0
	}
}

// State reports the breaker's mode. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; the switch itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.clear()
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
}

// The helpers below require cb.mu.

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Now()
	cb.streak = cb.cfg.MaxFailures
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) clear() {
	cb.streak, cb.trials, cb.passed = 0, 0, 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
