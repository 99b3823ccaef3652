// Package resilience keeps the voice service usable when a speech engine
// misbehaves.
//
// Each engine behind a [FallbackGroup] gets its own [CircuitBreaker]. After
// repeated failures the breaker opens and the group moves on to the next
// engine without waiting for the broken one to time out again. Once the
// reset timeout passes, a few trial calls decide whether the engine is back.
//
// Cancellation is not a failure: the recognition session cancels stream
// setup every time the user stops listening, and that must never trip a
// breaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name identifies the guarded engine in logs and callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the trial budget and the number of successful
	// trials needed to close again. Default 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// with the breaker unlocked.
	OnStateChange func(name string, from, to State)

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// CircuitBreaker is a three-state breaker. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
	passed   int
}

// NewCircuitBreaker returns a closed breaker.
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
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is rejecting calls, in which case it
// returns [ErrCircuitOpen] without calling fn. fn's error is returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, notify, err := cb.admit()
	notify()
	if err != nil {
		return err
	}

	err = fn()

	cb.done(trial, err)()
	return err
}

// admit decides whether a call may proceed and whether it counts as a trial.
func (cb *CircuitBreaker) admit() (trial bool, notify func(), err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	notify = func() {}
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, notify, ErrCircuitOpen
		}
		cb.trials, cb.passed = 0, 0
		notify = cb.setLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			return false, notify, ErrCircuitOpen
		}
		cb.trials++
		return true, notify, nil
	}
	return false, notify, nil
}

// done accounts for a finished call.
func (cb *CircuitBreaker) done(trial bool, err error) func() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case errors.Is(err, context.Canceled):
		// Neutral: give the trial slot back.
		if trial {
			cb.trials--
		}
		return func() {}

	case err != nil:
		if trial || cb.state == StateHalfOpen {
			cb.openedAt = cb.cfg.Now()
			return cb.setLocked(StateOpen)
		}
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			cb.openedAt = cb.cfg.Now()
			slog.Warn("resilience: breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
			return cb.setLocked(StateOpen)
		}
		return func() {}

	default:
		cb.failures = 0
		if trial && cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= cb.cfg.HalfOpenMax {
				return cb.setLocked(StateClosed)
			}
		}
		return func() {}
	}
}

// setLocked moves to state to and returns the callback notification to run
// once the lock is released.
func (cb *CircuitBreaker) setLocked(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	if to == StateClosed {
		cb.failures, cb.trials, cb.passed = 0, 0, 0
	}
	slog.Info("resilience: breaker state changed", "name", cb.cfg.Name, "from", from, "to", to)

	hook, name := cb.cfg.OnStateChange, cb.cfg.Name
	if hook == nil {
		return func() {}
	}
	return func() { hook(name, from, to) }
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.setLocked(StateClosed)
	cb.failures, cb.trials, cb.passed = 0, 0, 0
	cb.mu.Unlock()
	notify()
}
