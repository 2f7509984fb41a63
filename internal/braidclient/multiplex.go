package braidclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/braidfs/braidfs/internal/wire"
	"github.com/google/uuid"
)

// Multiplexer manages one long-lived POST to /multiplex and demultiplexes
// the frame stream (spec.md §4.1.2) into per-request channels, so many
// subsequent requests can ride over a single TCP connection.
type Multiplexer struct {
	id   string
	mu   sync.Mutex
	subs map[string]chan wire.Frame
	err  error
	done chan struct{}
}

// OpenMultiplexer opens the long POST and starts the demultiplex loop. The
// connection's ID is minted here and declared to the server in the
// Multiplex-Version request header (saving a round trip before the first
// multiplexed request); it is then reused in every subsequent
// Multiplex-Through header the caller sends.
func (c *Client) OpenMultiplexer(ctx context.Context, multiplexURL string) (*Multiplexer, error) {
	id := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, multiplexURL, nil)
	if err != nil {
		return nil, &ProtocolError{Op: "multiplex", Err: err}
	}
	req.Header.Set(wire.HeaderMultiplexVer, id)
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if echoed := resp.Header.Get(wire.HeaderMultiplexVer); echoed != "" {
		id = echoed
	}

	m := &Multiplexer{
		id:   id,
		subs: map[string]chan wire.Frame{},
		done: make(chan struct{}),
	}
	go m.demux(resp.Body)
	return m, nil
}

// ID is this multiplexer connection's identifier, used in
// `Multiplex-Through: <id>; request=<reqid>`.
func (m *Multiplexer) ID() string { return m.id }

// Register allocates a frame channel for requestID, to be read via Frames.
// Call this before sending the multiplexed request, to avoid a race with
// the server's "start response" frame.
func (m *Multiplexer) Register(requestID string) <-chan wire.Frame {
	ch := make(chan wire.Frame, 8)
	m.mu.Lock()
	m.subs[requestID] = ch
	m.mu.Unlock()
	return ch
}

// Close tears down the multiplexer's demux loop. In-flight per-request
// channels are closed.
func (m *Multiplexer) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func (m *Multiplexer) demux(body io.ReadCloser) {
	defer body.Close()
	defer m.closeAll()

	reader := bufio.NewReader(body)
	demuxer := wire.NewMultiplexDemuxer()
	buf := make([]byte, 4096)

	for {
		select {
		case <-m.done:
			return
		default:
		}

		frame, perr := demuxer.Next()
		if perr == wire.ErrIncomplete {
			n, rerr := reader.Read(buf)
			if n > 0 {
				demuxer.Feed(buf[:n])
			}
			if rerr != nil {
				m.mu.Lock()
				m.err = rerr
				m.mu.Unlock()
				return
			}
			continue
		}
		if perr != nil {
			m.mu.Lock()
			m.err = perr
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		ch, ok := m.subs[frame.ResponseID]
		if frame.Kind == wire.FrameClose {
			delete(m.subs, frame.ResponseID)
		}
		m.mu.Unlock()
		if ok {
			select {
			case ch <- frame:
			case <-m.done:
				return
			}
			if frame.Kind == wire.FrameClose {
				close(ch)
			}
		}
	}
}

func (m *Multiplexer) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// FormatMultiplexThroughHeader is a thin convenience wrapper so callers
// don't need to import internal/wire directly just to build the header.
func FormatMultiplexThroughHeader(muxID, requestID string) string {
	return wire.FormatMultiplexThrough(muxID, requestID)
}

// NewRequestID mints a fresh request ID for a multiplexed request.
func NewRequestID() string { return fmt.Sprintf("req-%s", uuid.NewString()) }
