package braidclient

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions, the same shape as
// teacher_client/errors.go's StreamError/sentinel pairing.
var (
	// ErrTimeout indicates a heartbeat gap exceeded the negotiated timeout.
	ErrTimeout = errors.New("braidclient: heartbeat timeout")

	// ErrAborted indicates the caller cancelled the subscription's context.
	ErrAborted = errors.New("braidclient: aborted by caller")

	// ErrHistoryDropped indicates a fatal 410: the caller must discard
	// local history and resubscribe from a fresh snapshot.
	ErrHistoryDropped = errors.New("braidclient: history dropped, resubscribe from scratch")

	// ErrAccessDenied indicates 401/403: not retryable.
	ErrAccessDenied = errors.New("braidclient: access denied")
)

// ProtocolError wraps a non-retryable client-side protocol violation
// (HeaderParse, BodyParse, Protocol in spec.md §7's taxonomy).
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("braidclient: %s: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// StatusError wraps a non-2xx HTTP response that doesn't map to one of the
// sentinels above, carrying the status code and response body for the
// "missing parents" substring check in the retry decision table.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("braidclient: unexpected status %d: %s", e.StatusCode, e.Body)
}
