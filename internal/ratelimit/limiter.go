// Package ratelimit provides a token-bucket admission gate for outbound
// market data calls.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket that refills lazily by elapsed wall-clock time
// on every Allow() call rather than via a background ticker goroutine.
type Limiter struct {
	mu             sync.Mutex
	capacity       int
	tokens         int
	refillInterval time.Duration
	lastRefill     time.Time
}

// New creates a Limiter with the given capacity and one-token refill
// interval.
func New(capacity int, refillInterval time.Duration) *Limiter {
	return &Limiter{
		capacity:       capacity,
		tokens:         capacity,
		refillInterval: refillInterval,
		lastRefill:     time.Now(),
	}
}

// Allow attempts to acquire a single token. Callers must treat a false
// result as "skip this tick, do not queue" — Allow never blocks.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens <= 0 {
		return false
	}
	l.tokens--
	return true
}

// refill tops the bucket up to capacity based on elapsed time since the
// last refill, without using a background timer.
func (l *Limiter) refill() {
	elapsed := time.Since(l.lastRefill)
	if elapsed < l.refillInterval {
		return
	}
	add := int(elapsed / l.refillInterval)
	if add <= 0 {
		return
	}
	l.tokens += add
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.lastRefill = l.lastRefill.Add(time.Duration(add) * l.refillInterval)
}

// Available returns the current token count without consuming one, for
// status/health reporting.
func (l *Limiter) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Capacity returns the bucket's configured capacity.
func (l *Limiter) Capacity() int {
	return l.capacity
}
