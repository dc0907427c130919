package bowtie

import (
	"sync/atomic"
	"time"
)

// CircuitState is the state of a circuit breaker.
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

// CircuitBreakerConfig holds breaker thresholds. Zero values take defaults.
type CircuitBreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a probe.
	RecoveryTimeout time.Duration
	// SuccessThreshold half-open successes close the circuit again.
	SuccessThreshold int
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// CircuitBreaker is a lock-free breaker. OnStateChange, when set before use,
// is called after every transition.
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         int64
	failures      int64
	successes     int64
	lastFailure   int64
	now           func() time.Time
	OnStateChange func(from, to CircuitState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.withDefaults(),
		state:  int64(StateClosed),
		now:    time.Now,
	}
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

// Allow reports whether a call may proceed. An open breaker whose recovery
// timeout elapsed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() bool {
	switch cb.State() {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		last := atomic.LoadInt64(&cb.lastFailure)
		if cb.now().UnixNano()-last < int64(cb.config.RecoveryTimeout) {
			return false
		}
		if cb.transition(StateOpen, StateHalfOpen) {
			atomic.StoreInt64(&cb.successes, 0)
			return true
		}
		return cb.State() != StateOpen
	default:
		return false
	}
}

// RecordFailure counts a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, cb.now().UnixNano())

	switch cb.State() {
	case StateClosed:
		if atomic.AddInt64(&cb.failures, 1) >= int64(cb.config.FailureThreshold) {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		atomic.StoreInt64(&cb.successes, 0)
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// RecordSuccess counts a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.State() {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateHalfOpen:
		if atomic.AddInt64(&cb.successes, 1) >= int64(cb.config.SuccessThreshold) {
			if cb.transition(StateHalfOpen, StateClosed) {
				atomic.StoreInt64(&cb.failures, 0)
				atomic.StoreInt64(&cb.successes, 0)
			}
		}
	}
}

func (cb *CircuitBreaker) transition(from, to CircuitState) bool {
	if !atomic.CompareAndSwapInt64(&cb.state, int64(from), int64(to)) {
		return false
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
	return true
}
