// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	tokens float64
	last   time.Time
}

type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second
	idleAfter  time.Duration
	now        func() time.Time

	mu        sync.Mutex
	m         map[string]*bucket
	lastPrune time.Time
}

// New returns a limiter allowing bursts of capacity and refillPerSec sustained.
func New(refillPerSec float64, capacity int) *Limiter {
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		capacity:   float64(capacity),
		refillRate: refillPerSec,
		idleAfter:  10 * time.Minute,
		now:        time.Now,
		m:          make(map[string]*bucket),
	}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Take consumes one token for key. When none is left it reports how long
// until the next token refills.
func (l *Limiter) Take(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	// refill
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	l.pruneLocked(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / l.refillRate * float64(time.Second))
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// pruneLocked drops buckets idle long enough to have refilled completely.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.idleAfter {
		return
	}
	l.lastPrune = now
	for k, b := range l.m {
		if now.Sub(b.last) >= l.idleAfter {
			delete(l.m, k)
		}
	}
}
