// Package ratelimit implements the filesystem daemon's reconnect rate
// limiter (spec.md §4.8, supplemented by original_source/crates/braid-core
// /src/fs/rate_limiter.rs's full ReconnectRateLimiter state machine rather
// than the bare formula spec.md states). Delay math mirrors the original
// 1:1; the exported surface and per-URL locking instead follow this
// module's general struct-with-mutex shape (internal/antimatter/state.go).
package ratelimit

import (
	"sync"
	"time"
)

// connectionState is one URL's reconnect bookkeeping, matching the Rust
// ConnectionState fields exactly.
type connectionState struct {
	connected    bool
	lastAttempt  time.Time
	failureCount uint32
	pendingTurns uint32
}

// Limiter is a per-URL reconnection rate limiter: repeated failures widen
// the delay before the next attempt is allowed, up to a 10x multiplier on
// the base delay; unrelated URLs are never penalized by one another's
// failures.
//
// Duration knobs here are sized the way
// github.com/cenkalti/backoff/v5.ExponentialBackOff's fields are: a base
// unit multiplied by a growing factor up to a cap. The actual arithmetic
// below is the original's multiplicative-failure-count formula, not
// backoff's exponential one; see internal/braidclient.RetryState for the
// client-facing retry policy, which is a third, unrelated, shape again.
type Limiter struct {
	mu       sync.Mutex
	delay    time.Duration
	conns    map[string]*connectionState
	now      func() time.Time
	maxMulti uint32
}

// New builds a Limiter with the given base delay.
func New(baseDelay time.Duration) *Limiter {
	return &Limiter{
		delay:    baseDelay,
		conns:    map[string]*connectionState{},
		now:      time.Now,
		maxMulti: 10,
	}
}

// WithClock overrides the limiter's time source, for deterministic tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

func (l *Limiter) stateFor(url string) *connectionState {
	s, ok := l.conns[url]
	if !ok {
		s = &connectionState{}
		l.conns[url] = s
	}
	return s
}

// GetTurn returns how long the caller should wait before attempting to
// (re)connect to url: base_delay * min(failures+1, 10), minus time already
// elapsed since the last attempt recorded for this URL. A currently
// connected URL always returns zero.
func (l *Limiter) GetTurn(url string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateFor(url)
	s.pendingTurns++

	var delay time.Duration
	if s.connected {
		delay = 0
	} else {
		multiplier := s.failureCount
		if multiplier > l.maxMulti-1 {
			multiplier = l.maxMulti - 1
		}
		delay = l.delay * time.Duration(multiplier+1)
	}

	elapsed := l.now().Sub(s.lastAttempt)
	if elapsed < delay {
		return delay - elapsed
	}
	return 0
}

// OnConn records a successful connection: clears the failure count and
// marks the URL connected.
func (l *Limiter) OnConn(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(url)
	s.connected = true
	s.failureCount = 0
	s.lastAttempt = l.now()
}

// OnDiss records a disconnection or failed attempt: marks the URL
// disconnected and bumps its failure count.
func (l *Limiter) OnDiss(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(url)
	s.connected = false
	s.failureCount++
	s.lastAttempt = l.now()
}

// IsConnected reports whether url is currently marked connected.
func (l *Limiter) IsConnected(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.conns[url]
	return ok && s.connected
}

// FailureCount reports the current consecutive-failure count for url.
func (l *Limiter) FailureCount(url string) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.conns[url]
	if !ok {
		return 0
	}
	return s.failureCount
}

// Reset discards all tracked state for url.
func (l *Limiter) Reset(url string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, url)
}
