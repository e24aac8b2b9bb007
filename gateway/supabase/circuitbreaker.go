// Package supabase - Circuit breaker for the change-feed poll loop.
// Keeps a failing remote from being hammered on every tick: after a
// run of consecutive failures the loop skips polls until a cooldown
// elapses, then allows a single probe.
package supabase

import (
	"sync"
	"time"
)

// DefaultBreakerThreshold is the number of consecutive failures before
// the circuit opens.
const DefaultBreakerThreshold = 3

// DefaultBreakerCooldown is how long the circuit stays open before
// transitioning to half-open.
const DefaultBreakerCooldown = 30 * time.Second

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state - polls are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the remote is failing - polls are skipped.
	CircuitOpen
	// CircuitHalfOpen means the cooldown expired - one probe poll is allowed.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker tracks consecutive poll failures for one feed.
type circuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	cooldown     time.Duration
	failureCount int
	state        CircuitState
	openedAt     time.Time
}

// newCircuitBreaker creates a circuitBreaker with the given threshold and cooldown.
func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

// Allow checks if a poll should proceed.
func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	case CircuitHalfOpen:
		// Already in half-open, allow the probe
		return true
	default:
		return true
	}
}

// RecordSuccess resets the breaker to closed.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failed poll; reaching the threshold opens the circuit.
func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.failureCount >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state of the circuit breaker.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.cooldown {
		cb.state = CircuitHalfOpen
	}
	return cb.state
}
