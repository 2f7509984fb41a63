// Package braidclient implements the Braid-HTTP client of spec.md §4.5:
// one-shot fetch, long-lived subscriptions with automatic retry and
// heartbeat-timeout detection, and multiplexing of many subscriptions over
// one TCP connection. Its retry/backoff and subscription-as-channel shape
// follow teacher_client/stream.go and retry.go; its HTTP semantics are
// Braid's rather than durable-streams'.
package braidclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/braidfs/braidfs/internal/wire"
)

// Client is a Braid-HTTP client. Safe for concurrent use across multiple
// Fetch/Subscribe calls.
type Client struct {
	cfg config
}

// New builds a Client, applying the default HTTP client and backoff ceiling
// unless overridden by opts.
func New(opts ...Option) *Client {
	cfg := config{maxBackoff: defaultMaxBackoff}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: 0}
	}
	return &Client{cfg: cfg}
}

// Event is one item yielded by a Subscription: either a successful Update
// or a terminal error (the stream ends after an Event with Err set), per
// spec.md §4.5's "caller receives a stream of Update values... on error,
// the stream yields the error and terminates".
type Event struct {
	Update wire.Update
	Err    error
}

// Fetch performs a one-shot GET (optionally with Subscribe absent), wiring
// the Peer header and retry policy, and returns the single resulting
// Update. For non-subscription requests, spec.md §5 gives a 30s default
// per-request timeout.
func (c *Client) Fetch(ctx context.Context, url string, versions []string) (wire.Update, error) {
	retry := NewRetryState(c.cfg.maxBackoff).WithMaxRetries(c.cfg.maxRetries)

	for {
		reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return wire.Update{}, &ProtocolError{Op: "fetch", Err: err}
		}
		c.setCommonHeaders(req, versions)

		resp, err := c.cfg.httpClient.Do(req)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return wire.Update{}, ErrAborted
			}
			decision := retry.DecideNetworkError(false)
			if !c.wait(ctx, decision) {
				return wire.Update{}, errFromDecision(decision, err)
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		if readErr != nil {
			return wire.Update{}, &ProtocolError{Op: "fetch", Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			retry.Reset()
			return updateFromResponse(resp, body)
		}

		decision := retry.DecideResponse(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
		if !c.wait(ctx, decision) {
			return wire.Update{}, errFromDecision(decision, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
		}
	}
}

// setCommonHeaders applies the Peer header and Version header (if any
// prior versions are known) common to every request this client issues.
func (c *Client) setCommonHeaders(req *http.Request, versions []string) {
	if c.cfg.peerID != "" {
		req.Header.Set(wire.HeaderPeer, `"`+c.cfg.peerID+`"`)
	}
	if len(versions) > 0 {
		req.Header.Set(wire.HeaderVersion, wire.FormatVersionHeader(versions))
	}
}

// wait blocks for decision.Wait (or returns false immediately for a
// terminal outcome), honoring ctx cancellation.
func (c *Client) wait(ctx context.Context, d Decision) bool {
	if d.Outcome != OutcomeRetry {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d.Wait):
		return true
	}
}

func errFromDecision(d Decision, cause error) error {
	switch d.Outcome {
	case OutcomeFatal:
		if se, ok := cause.(*StatusError); ok && se.StatusCode == wire.StatusHistoryDropped {
			return ErrHistoryDropped
		}
		return cause
	case OutcomeAccessDenied:
		return ErrAccessDenied
	case OutcomeAborted:
		return ErrAborted
	case OutcomeGiveUp:
		return cause
	default:
		return cause
	}
}

func updateFromResponse(resp *http.Response, body []byte) (wire.Update, error) {
	versions, err := wire.ParseVersionHeader(resp.Header.Get(wire.HeaderVersion))
	if err != nil {
		return wire.Update{}, &ProtocolError{Op: "fetch", Err: err}
	}
	parents, err := wire.ParseVersionHeader(resp.Header.Get(wire.HeaderParents))
	if err != nil {
		return wire.Update{}, &ProtocolError{Op: "fetch", Err: err}
	}
	return wire.Update{
		Versions:  versions,
		Parents:   parents,
		MergeType: resp.Header.Get(wire.HeaderMergeType),
		Body:      body,
	}, nil
}

// Subscription is a long-lived stream of Events for one resource. The
// subscription transparently reconnects on retryable errors (replaying
// only missing history, per spec.md §4.5) and stops, yielding a final
// error Event, on a fatal one.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
}

// Events returns the channel of Events. The channel closes after the final
// Event (which has Err set) or when the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close cancels the subscription, releasing its connection.
func (s *Subscription) Close() { s.cancel() }

// heartbeatTimeout implements spec.md §4.5: "any gap in the byte stream
// longer than 1.2*N + 3 seconds raises Timeout".
func heartbeatTimeout(n float64) time.Duration {
	return time.Duration((1.2*n + 3) * float64(time.Second))
}

// Subscribe opens a long-lived subscription to url, starting from the
// given known frontier (nil/empty for "from scratch"). Heartbeats requests
// a server keepalive every heartbeatSeconds (0 disables the request). The
// heartbeat timeout follows the response's Heartbeats header when the
// server sends one, even if none was requested, and heartbeatSeconds
// otherwise; with neither, no timeout is armed.
func (c *Client) Subscribe(ctx context.Context, url string, versions []string, heartbeatSeconds float64) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{events: make(chan Event, 16), cancel: cancel}
	go c.runSubscription(subCtx, url, versions, heartbeatSeconds, sub.events)
	return sub
}

func (c *Client) runSubscription(ctx context.Context, url string, versions []string, heartbeatSeconds float64, out chan<- Event) {
	defer close(out)
	retry := NewRetryState(c.cfg.maxBackoff).WithMaxRetries(c.cfg.maxRetries)
	known := append([]string(nil), versions...)

	for {
		if ctx.Err() != nil {
			return
		}
		lastGood, err := c.subscribeOnce(ctx, url, known, heartbeatSeconds, retry, out)
		if len(lastGood) > 0 {
			known = lastGood
		}
		if err == nil {
			return // context cancelled cleanly mid-stream, nothing more to report
		}

		var decision Decision
		if se, ok := err.(*StatusError); ok {
			decision = retry.DecideResponse(se.StatusCode, se.Body, "")
		} else if err == ErrTimeout {
			decision = retry.advance(retry.backoff)
		} else {
			decision = retry.DecideNetworkError(ctx.Err() != nil)
		}

		if !c.wait(ctx, decision) {
			out <- Event{Err: errFromDecision(decision, err)}
			return
		}
	}
}

// subscribeOnce performs one connection attempt of a subscription,
// emitting Events until the connection ends (cleanly or with an error). It
// returns the last frontier observed, so the caller can resubscribe from
// there, and the terminating error (nil if ctx was cancelled). retry is
// Reset on every update received.
func (c *Client) subscribeOnce(ctx context.Context, url string, versions []string, heartbeatSeconds float64, retry *RetryState, out chan<- Event) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProtocolError{Op: "subscribe", Err: err}
	}
	c.setCommonHeaders(req, versions)
	req.Header.Set(wire.HeaderSubscribe, "true")
	if heartbeatSeconds > 0 {
		req.Header.Set(wire.HeaderHeartbeats, fmt.Sprintf("%gs", heartbeatSeconds))
	}

	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wire.StatusSubscriptionUpdate {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	frontier, _ := wire.ParseVersionHeader(resp.Header.Get(wire.HeaderVersion))
	if hv := resp.Header.Get(wire.HeaderHeartbeats); hv != "" {
		if secs, perr := wire.ParseHeartbeat(hv); perr == nil {
			heartbeatSeconds = secs
		}
	}

	reader := bufio.NewReader(resp.Body)
	parser := wire.NewMessageParser()
	// net/http has already consumed the real status line into
	// resp.StatusCode; the parser's state machine expects one for every
	// message (see wire.MessageParser), so the first is synthesized here.
	// Every later message's own status line travels in-band in the body,
	// written by the server alongside that update's headers.
	parser.Feed([]byte(fmt.Sprintf("HTTP/1.1 %d Subscription\r\n", resp.StatusCode)))
	activity := make(chan struct{}, 1)
	readErrCh := make(chan error, 1)
	chunks := make(chan []byte)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := reader.Read(buf)
			if n > 0 {
				cp := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- cp:
				case <-ctx.Done():
					return
				}
				select {
				case activity <- struct{}{}:
				default:
				}
			}
			if err != nil {
				readErrCh <- err
				return
			}
		}
	}()

	var timeoutC <-chan time.Time
	var timer *time.Timer
	if heartbeatSeconds > 0 {
		timer = time.NewTimer(heartbeatTimeout(heartbeatSeconds))
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return frontier, nil
		case <-timeoutC:
			return frontier, ErrTimeout
		case <-activity:
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(heartbeatTimeout(heartbeatSeconds))
			}
		case chunk := <-chunks:
			parser.Feed(chunk)
			for {
				msg, perr := parser.Next()
				if perr == wire.ErrIncomplete {
					break
				}
				if perr != nil {
					return frontier, &ProtocolError{Op: "subscribe", Err: perr}
				}
				if msg.Heartbeat {
					continue
				}
				frontier = msg.Update.Versions
				retry.Reset()
				out <- Event{Update: msg.Update}
			}
		case err := <-readErrCh:
			if err == io.EOF {
				return frontier, nil
			}
			return frontier, err
		}
	}
}
