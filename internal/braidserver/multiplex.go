package braidserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/braidfs/braidfs/internal/wire"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// muxConn is one open multiplexer connection: a long-lived POST response
// body that framed sub-responses are interleaved onto. Writes are
// serialized so frames from concurrent multiplexed requests never shear.
type muxConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

func (m *muxConn) write(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
		return fmt.Errorf("braidserver: multiplexer closed")
	default:
	}
	if _, err := m.w.Write(b); err != nil {
		return err
	}
	m.flusher.Flush()
	return nil
}

type muxRegistry struct {
	mu    sync.Mutex
	conns map[string]*muxConn
}

func newMuxRegistry() *muxRegistry {
	return &muxRegistry{conns: map[string]*muxConn{}}
}

func (r *muxRegistry) add(id string, c *muxConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = c
}

func (r *muxRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *muxRegistry) get(id string) (*muxConn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// handleMultiplexOpen services the long POST that establishes a
// multiplexer connection. The client declares the connection's ID in its
// Multiplex-Version request header (minting one itself saves a round trip
// before the first multiplexed request); a client that sends none is
// assigned one, echoed back in the same response header. The response
// stays open for the client's lifetime; its body is the frame stream.
func (h *Handler) handleMultiplexOpen(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	id := r.Header.Get(wire.HeaderMultiplexVer)
	if id == "" {
		id = uuid.NewString()
	}

	conn := &muxConn{w: w, flusher: flusher, done: make(chan struct{})}
	h.muxes.add(id, conn)
	defer func() {
		h.muxes.remove(id)
		close(conn.done)
		// Barrier: an in-flight frame write holds conn.mu; taking it here
		// guarantees no goroutine touches w after this handler returns.
		conn.mu.Lock()
		defer conn.mu.Unlock()
	}()

	w.Header().Set(wire.HeaderMultiplexVer, id)
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.cfg.logger.Info("multiplexer opened", zap.String("mux", id))
	<-r.Context().Done()
}

// serveMultiplexed answers a request carrying Multiplex-Through: the real
// response body is 293 (responded via multiplexer) and the actual response
// is streamed as start/data/close frames over the named multiplexer
// connection, serialized with wire's message grammar so the demuxing
// client can feed the reassembled bytes straight into a MessageParser.
// Reports false if the header was absent or unusable, in which case the
// caller should serve the request normally.
func (h *Handler) serveMultiplexed(w http.ResponseWriter, r *http.Request) bool {
	mt := r.Header.Get(wire.HeaderMultiplexThru)
	if mt == "" {
		return false
	}
	muxID, reqID, err := wire.ParseMultiplexThrough(mt)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return true
	}
	conn, ok := h.muxes.get(muxID)
	if !ok {
		http.Error(w, "unknown multiplexer "+muxID, http.StatusBadRequest)
		return true
	}

	// The 293 acknowledgement closes the real response immediately; the
	// multiplexed copy must therefore outlive r's own context and end with
	// the multiplexer connection instead. The body is buffered now because
	// net/http closes r.Body the moment this handler returns.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return true
	}
	sub := r.Clone(contextFrom(conn.done))
	sub.Header.Del(wire.HeaderMultiplexThru)
	sub.Body = io.NopCloser(bytes.NewReader(body))

	go func() {
		if err := conn.write([]byte(wire.FormatFrameStart(reqID))); err != nil {
			return
		}
		fw := &frameWriter{conn: conn, reqID: reqID}
		h.ServeHTTP(fw, sub)
		conn.write([]byte(wire.FormatFrameClose(reqID)))
	}()

	w.WriteHeader(wire.StatusMultiplexed)
	return true
}

// contextFrom derives a context that is cancelled when done closes, tying
// a multiplexed sub-response's lifetime to its parent connection.
func contextFrom(done <-chan struct{}) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// frameWriter adapts one multiplexed sub-response onto its parent
// multiplexer connection: WriteHeader serializes the status line and
// header block as the first data frame; every Write becomes another.
type frameWriter struct {
	conn        *muxConn
	reqID       string
	header      http.Header
	wroteHeader bool
	failed      bool
}

func (f *frameWriter) Header() http.Header {
	if f.header == nil {
		f.header = http.Header{}
	}
	return f.header
}

func (f *frameWriter) WriteHeader(status int) {
	if f.wroteHeader {
		return
	}
	f.wroteHeader = true

	head := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	for name, values := range f.Header() {
		for _, v := range values {
			head += fmt.Sprintf("%s: %s\r\n", name, v)
		}
	}
	head += "\r\n"
	if err := f.conn.write(wire.FormatFrameData(f.reqID, []byte(head))); err != nil {
		f.failed = true
	}
}

// writeStatusLineOnly emits a bare status line with no header block, for
// subscription responses whose message headers all travel in-band.
func (f *frameWriter) writeStatusLineOnly(status int) {
	if f.wroteHeader {
		return
	}
	f.wroteHeader = true
	line := fmt.Sprintf("HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if err := f.conn.write(wire.FormatFrameData(f.reqID, []byte(line))); err != nil {
		f.failed = true
	}
}

func (f *frameWriter) Write(b []byte) (int, error) {
	if !f.wroteHeader {
		f.WriteHeader(http.StatusOK)
	}
	if f.failed {
		return 0, fmt.Errorf("braidserver: multiplexer write failed")
	}
	if err := f.conn.write(wire.FormatFrameData(f.reqID, b)); err != nil {
		f.failed = true
		return 0, err
	}
	return len(b), nil
}

// Flush is a no-op: every frame is flushed as it is written.
func (f *frameWriter) Flush() {}
