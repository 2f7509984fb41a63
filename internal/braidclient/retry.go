package braidclient

import (
	"strconv"
	"strings"
	"time"

	"github.com/braidfs/braidfs/internal/wire"
)

// defaultMaxBackoff matches spec.md §4.5's default max_backoff of 3s.
const defaultMaxBackoff = 3 * time.Second

// RetryState records attempt count and current backoff for one logical
// subscription or fetch, implementing spec.md §4.5's decision table. It is
// not safe for concurrent use; callers own one per in-flight operation, the
// same shape as teacher_client/retry.go's per-Stream retry loop.
type RetryState struct {
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
	maxRetries int // 0 means unbounded
}

// NewRetryState builds a RetryState with the given max backoff ceiling. A
// zero maxBackoff defaults to 3s.
func NewRetryState(maxBackoff time.Duration) *RetryState {
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &RetryState{backoff: time.Second, maxBackoff: maxBackoff}
}

// WithMaxRetries caps the number of attempts; 0 (the default) is unbounded.
func (r *RetryState) WithMaxRetries(n int) *RetryState {
	r.maxRetries = n
	return r
}

// Reset clears attempt count and backoff, called on any successful message
// arrival per spec.md §4.5.
func (r *RetryState) Reset() {
	r.attempts = 0
	r.backoff = time.Second
}

// Attempts reports how many attempts have been made since the last Reset.
func (r *RetryState) Attempts() int { return r.attempts }

// Outcome classifies what should happen next for a completed attempt.
type Outcome int

const (
	// OutcomeRetry: wait Wait, then retry.
	OutcomeRetry Outcome = iota
	// OutcomeFatal: terminal, e.g. 410 History dropped.
	OutcomeFatal
	// OutcomeAccessDenied: terminal, 401/403.
	OutcomeAccessDenied
	// OutcomeAborted: terminal, caller-initiated cancellation.
	OutcomeAborted
	// OutcomeGiveUp: retryable in principle, but maxRetries was reached.
	OutcomeGiveUp
)

// Decision is the result of consulting the retry decision table for one
// failed attempt.
type Decision struct {
	Outcome Outcome
	Wait    time.Duration
}

// DecideNetworkError classifies a network/IO failure (not a response):
// always retryable unless the caller aborted.
func (r *RetryState) DecideNetworkError(aborted bool) Decision {
	if aborted {
		return Decision{Outcome: OutcomeAborted}
	}
	return r.advance(r.backoff)
}

// DecideResponse classifies a completed HTTP response by status code, body
// (for the "missing parents" substring check), and any Retry-After header,
// per spec.md §4.5's decision table.
func (r *RetryState) DecideResponse(status int, body, retryAfter string) Decision {
	switch {
	case status == wire.StatusHistoryDropped:
		return Decision{Outcome: OutcomeFatal}
	case status == 401 || status == 403:
		return Decision{Outcome: OutcomeAccessDenied}
	case wire.Retryable(status):
		return r.advance(retryAfterOr(retryAfter, r.backoff))
	case strings.Contains(body, "missing parents"):
		return r.advance(retryAfterOr(retryAfter, r.backoff))
	default:
		return Decision{Outcome: OutcomeFatal}
	}
}

func (r *RetryState) advance(proposed time.Duration) Decision {
	r.attempts++
	if r.maxRetries > 0 && r.attempts > r.maxRetries {
		return Decision{Outcome: OutcomeGiveUp}
	}
	wait := proposed
	if wait > r.maxBackoff {
		wait = r.maxBackoff
	}
	d := Decision{Outcome: OutcomeRetry, Wait: wait}
	r.backoff += time.Second
	if r.backoff > r.maxBackoff {
		r.backoff = r.maxBackoff
	}
	return d
}

// retryAfterOr parses an HTTP Retry-After header (seconds form only, the
// form Braid servers emit) and returns it if present and valid, else
// falls back to the current backoff.
func retryAfterOr(retryAfter string, fallback time.Duration) time.Duration {
	retryAfter = strings.TrimSpace(retryAfter)
	if retryAfter == "" {
		return fallback
	}
	secs, err := strconv.Atoi(retryAfter)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}
