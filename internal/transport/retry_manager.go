// Package transport holds the backoff and circuit breaker cmd/filemesh
// uses when dialing configured seed nodes at startup and on reconnect.
package transport

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// CircuitState represents the state of a per-peer circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// ReconnectManager implements exponential backoff with jitter and a
// per-peer-address circuit breaker with a cooldown-based half-open
// trial: once a circuit has been open for ResetTimeout, the next
// GetCircuitState call reports CircuitHalfOpen so the caller can attempt
// one more connect; a failure during that trial reopens the circuit and
// restarts the cooldown, a success closes it.
type ReconnectManager struct {
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
	ResetTimeout      time.Duration

	mu       sync.Mutex
	failures map[string]int
	state    map[string]CircuitState
	openedAt map[string]time.Time
}

// NewReconnectManager creates a ReconnectManager with sane defaults for
// dialing peers over a LAN or the open internet.
func NewReconnectManager() *ReconnectManager {
	return &ReconnectManager{
		MaxRetries:        5,
		BaseBackoff:       100 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		ResetTimeout:      1 * time.Minute,
		failures:          make(map[string]int),
		state:             make(map[string]CircuitState),
		openedAt:          make(map[string]time.Time),
	}
}

// ShouldRetry returns whether another dial attempt should be made for
// this round of backoff, independent of circuit state.
func (r *ReconnectManager) ShouldRetry(attempt int, err error) bool {
	return attempt < r.MaxRetries
}

// NextBackoff calculates the next backoff duration given the attempt count
// and a recent RTT sample to this peer (0 if unknown).
func (r *ReconnectManager) NextBackoff(attempt int, rtt time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := float64(r.BaseBackoff) * math.Pow(r.BackoffMultiplier, float64(attempt-1))
	if rtt > 0 {
		backoff = math.Max(backoff, float64(rtt))
	}
	if backoff > float64(r.MaxBackoff) {
		backoff = float64(r.MaxBackoff)
	}
	jitter := backoff * r.JitterFactor * (rand.Float64()*2 - 1)
	backoff += jitter
	if backoff < float64(r.BaseBackoff) {
		backoff = float64(r.BaseBackoff)
	}
	return time.Duration(backoff)
}

// RecordSuccess resets the failure count and closes the circuit for addr.
func (r *ReconnectManager) RecordSuccess(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, addr)
	delete(r.openedAt, addr)
	r.state[addr] = CircuitClosed
}

// RecordFailure increments the failure count for addr. Past MaxRetries
// consecutive failures it opens the circuit (or, if the failure happened
// during a half-open trial, reopens it and restarts the cooldown).
func (r *ReconnectManager) RecordFailure(addr string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[addr]++
	if r.state[addr] == CircuitHalfOpen || r.failures[addr] > r.MaxRetries {
		r.state[addr] = CircuitOpen
		r.openedAt[addr] = time.Now()
	}
}

// GetCircuitState returns the current circuit state for addr, promoting
// an open circuit to half-open once ResetTimeout has elapsed since it
// opened.
func (r *ReconnectManager) GetCircuitState(addr string) CircuitState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state[addr]
	if !ok {
		return CircuitClosed
	}
	if s == CircuitOpen && time.Since(r.openedAt[addr]) >= r.ResetTimeout {
		r.state[addr] = CircuitHalfOpen
		return CircuitHalfOpen
	}
	return s
}
