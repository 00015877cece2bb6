package resilience

import (
	"sync"
	"time"

	"context"

	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// outcome is one call's result and timestamp, kept only while the breaker is
// closed and only for up to CircuitBreakerConfig.Window.
type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements the closed/open/half-open state machine described
// by CircuitBreakerConfig. A fresh breaker starts closed. The closed state
// trips on a rolling error rate over window, not a consecutive-failure
// streak: an alternating pass/fail sequence that sustains a >=
// ErrorRateThreshold error rate across at least FailureThreshold calls opens
// the breaker even though no two failures are ever consecutive.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	window        []outcome // closed-state rolling call log, oldest first
	successes     int64     // half-open probe successes
	lastFailure   time.Time
	openedAt      time.Time
	halfOpenCount int64
}

// NewCircuitBreaker constructs a breaker from cfg, filling in unset fields
// from DefaultCircuitBreakerConfig(cfg.Name).
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the breaker allows it, and records the outcome.
// In the open state it fails fast with errors.Unavailable without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Executor) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.Timeout {
			return errors.Unavailable(cb.cfg.Name+": circuit open", nil)
		}
		cb.setStateLocked(StateHalfOpen)
		cb.halfOpenCount = 0
		return nil
	case StateHalfOpen:
		// Allow a limited number of probe requests through while half-open.
		if cb.halfOpenCount >= cb.cfg.SuccessThreshold {
			return errors.Unavailable(cb.cfg.Name+": circuit half-open, probe in flight", nil)
		}
		cb.halfOpenCount++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if success {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.setStateLocked(StateClosed)
			}
		} else {
			cb.setStateLocked(StateOpen)
		}
	case StateClosed:
		now := time.Now()
		if !success {
			cb.lastFailure = now
		}
		cb.window = append(trimWindow(cb.window, now, cb.cfg.Window), outcome{at: now, success: success})

		if int64(len(cb.window)) < cb.cfg.FailureThreshold {
			return
		}
		var failed int64
		for _, o := range cb.window {
			if !o.success {
				failed++
			}
		}
		if float64(failed)/float64(len(cb.window)) >= cb.cfg.ErrorRateThreshold {
			cb.setStateLocked(StateOpen)
		}
	}
}

// trimWindow drops entries older than window relative to now, preserving the
// underlying array's capacity so the common case (append-only, small window)
// doesn't reallocate every call.
func trimWindow(w []outcome, now time.Time, window time.Duration) []outcome {
	cutoff := now.Add(-window)
	i := 0
	for i < len(w) && w[i].at.Before(cutoff) {
		i++
	}
	return w[i:]
}

// setStateLocked transitions state and fires OnStateChange. Caller must hold cb.mu.
func (cb *CircuitBreaker) setStateLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
	case StateClosed:
		cb.window = nil
		cb.successes = 0
	case StateHalfOpen:
		cb.successes = 0
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ForceOpen manually trips the breaker, e.g. from an operator action.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateOpen)
}

// ForceClose manually resets the breaker.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setStateLocked(StateClosed)
}

// Metrics is a point-in-time snapshot of the breaker's counters. Failures
// and Successes report the current rolling window's call counts while
// closed, or the half-open probe's success count otherwise.
type Metrics struct {
	State       State
	Failures    int64
	Successes   int64
	LastFailure time.Time
}

func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := Metrics{State: cb.state, LastFailure: cb.lastFailure, Successes: cb.successes}
	if cb.state == StateClosed {
		var failed int64
		for _, o := range cb.window {
			if !o.success {
				failed++
			}
		}
		m.Failures = failed
		m.Successes = int64(len(cb.window)) - failed
	}
	return m
}
