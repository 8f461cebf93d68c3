package llmprovider

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState is one of the three circuit-breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the breaker's thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	RequiredSuccesses int // consecutive HalfOpen successes needed to close
}

// DefaultCircuitBreakerConfig mirrors internal/agent/failover.go's
// circuit-breaker threshold/timeout defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  3,
		RecoveryTimeout:   30 * time.Second,
		RequiredSuccesses: 1,
	}
}

// ErrCircuitOpen is returned while the breaker is Open and the recovery
// timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker wraps a Provider with the Closed/Open/HalfOpen state
// machine (§4.4): Closed forwards every call; N consecutive failures
// trip it to Open, which rejects immediately until the recovery timeout
// elapses and it moves to HalfOpen; HalfOpen allows a single probe — a
// success (repeated RequiredSuccesses times) closes the breaker again, a
// failure reopens it.
type CircuitBreaker struct {
	inner Provider
	cfg   CircuitBreakerConfig

	mu                    sync.Mutex
	state                 CircuitState
	consecutiveFailures   int
	consecutiveSuccess    int
	openedAt              time.Time
	halfOpenProbeInFlight bool
}

// NewCircuitBreaker builds a CircuitBreaker decorator around inner.
func NewCircuitBreaker(inner Provider, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultCircuitBreakerConfig().RecoveryTimeout
	}
	if cfg.RequiredSuccesses <= 0 {
		cfg.RequiredSuccesses = DefaultCircuitBreakerConfig().RequiredSuccesses
	}
	return &CircuitBreaker{inner: inner, cfg: cfg, state: CircuitClosed}
}

func (c *CircuitBreaker) ModelName() string { return c.inner.ModelName() }

func (c *CircuitBreaker) CostPerToken() (input, output float64) { return c.inner.CostPerToken() }

// State returns the breaker's current state.
func (c *CircuitBreaker) State() CircuitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentStateLocked()
}

// currentStateLocked transitions Open -> HalfOpen once the recovery
// timeout has elapsed, then returns the resulting state. Caller must
// hold c.mu.
func (c *CircuitBreaker) currentStateLocked() CircuitState {
	if c.state == CircuitOpen && time.Since(c.openedAt) >= c.cfg.RecoveryTimeout {
		c.state = CircuitHalfOpen
		c.consecutiveSuccess = 0
	}
	return c.state
}

// admit reports whether a call may proceed, reserving the single
// HalfOpen probe slot if applicable.
func (c *CircuitBreaker) admit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.currentStateLocked() {
	case CircuitOpen:
		return ErrCircuitOpen
	case CircuitHalfOpen:
		if c.halfOpenProbeInFlight {
			return ErrCircuitOpen
		}
		c.halfOpenProbeInFlight = true
		return nil
	default:
		return nil
	}
}

func (c *CircuitBreaker) recordResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasHalfOpenProbe := c.halfOpenProbeInFlight
	c.halfOpenProbeInFlight = false

	if err == nil {
		c.consecutiveFailures = 0
		if c.state == CircuitHalfOpen || wasHalfOpenProbe {
			c.consecutiveSuccess++
			if c.consecutiveSuccess >= c.cfg.RequiredSuccesses {
				c.state = CircuitClosed
				c.consecutiveSuccess = 0
			}
		}
		return
	}

	c.consecutiveSuccess = 0
	if c.state == CircuitHalfOpen {
		c.state = CircuitOpen
		c.openedAt = time.Now()
		return
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= c.cfg.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = time.Now()
	}
}

func (c *CircuitBreaker) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := c.admit(); err != nil {
		return nil, err
	}
	resp, err := c.inner.Complete(ctx, req)
	c.recordResult(err)
	return resp, err
}

func (c *CircuitBreaker) CompleteWithTools(ctx context.Context, req ToolCompletionRequest) (*ToolCompletionResponse, error) {
	if err := c.admit(); err != nil {
		return nil, err
	}
	resp, err := c.inner.CompleteWithTools(ctx, req)
	c.recordResult(err)
	return resp, err
}
