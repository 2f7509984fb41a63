// Package braidserver implements the Braid-HTTP server of spec.md §4.6: a
// per-resource merge-type registry, GET subscribe/snapshot handling, PUT
// patch dispatch with idempotent re-delivery and rebase broadcast, and a
// heartbeat injector for idle subscriptions. Its handler dispatch and CORS
// shape follow teacher_server/handler.go's ServeHTTP; its subscription
// broadcast loop follows other_examples' braid-mock server.go, adapted to
// this module's antimatter/merge packages instead of ad hoc JSON diffing.
package braidserver

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/braidfs/braidfs/internal/merge"
	"github.com/braidfs/braidfs/internal/wire"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler serves the Braid-HTTP protocol for every resource under its
// registry. It implements http.Handler directly; Router wraps it in a
// gorilla/mux router for callers that want to mount it alongside other
// routes.
type Handler struct {
	cfg      config
	registry *Registry
	muxes    *muxRegistry
}

// New builds a Handler. Without WithMergeRegistry, it uses
// merge.NewRegistry()'s built-ins (simpleton/diamond/antimatter/json) and
// defaults new resources to "simpleton" unless overridden.
func New(opts ...Option) *Handler {
	cfg := config{
		logger:            zap.NewNop(),
		defaultMergeType:  "simpleton",
		heartbeatInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.mergeRegistry == nil {
		cfg.mergeRegistry = merge.NewRegistry()
	}
	return &Handler{
		cfg:      cfg,
		registry: NewRegistry(cfg.mergeRegistry, cfg.defaultMergeType),
		muxes:    newMuxRegistry(),
	}
}

// Router mounts h under a catch-all path prefix, matching braid-mock's
// router.PathPrefix("/").HandlerFunc(...) shape.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(h.ServeHTTP)
	return r
}

// ServeHTTP dispatches by method, applying permissive CORS headers to every
// response first (matching teacher_server/handler.go's ServeHTTP).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Version, Parents, Merge-Type, Patches, Content-Range, Content-Length, Subscribe, Heartbeats, Peer, Multiplex-Through")
	w.Header().Set("Access-Control-Expose-Headers", "Version, Parents, Merge-Type, Current-Version, Multiplex-Version")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/multiplex" {
		h.handleMultiplexOpen(w, r)
		return
	}
	if h.serveMultiplexed(w, r) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPut:
		h.handlePut(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.registry.Get(r.URL.Path)
	if err != nil {
		h.cfg.logger.Error("get resource", zap.Error(err), zap.String("path", r.URL.Path))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if r.Header.Get(wire.HeaderSubscribe) != "true" {
		content, frontier := res.Snapshot()
		setEscapedHeader(w.Header(), wire.HeaderVersion, wire.FormatVersionHeader(frontier))
		w.Header().Set(wire.HeaderParents, "")
		// Explicit so a multiplexed copy of this response still declares
		// its body length in-band (net/http fills it in on a direct
		// connection, a frameWriter serializes only what's set here).
		w.Header().Set(wire.HeaderContentLength, strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, content)
		return
	}

	h.handleSubscribe(w, r, res)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request, res *Resource) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	known, _ := wire.ParseVersionHeader(r.Header.Get(wire.HeaderVersion))
	heartbeatInterval := h.cfg.heartbeatInterval
	if hv := r.Header.Get(wire.HeaderHeartbeats); hv != "" {
		if secs, err := wire.ParseHeartbeat(hv); err == nil {
			heartbeatInterval = time.Duration(secs * float64(time.Second))
		}
	}

	res.mu.Lock()
	content := res.mt.Content()
	frontier := res.effectiveFrontier()
	subID, ch := res.subscribe()
	res.mu.Unlock()
	defer res.unsubscribe(subID)

	setEscapedHeader(w.Header(), wire.HeaderVersion, wire.FormatVersionHeader(frontier))
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("X-Accel-Buffering", "no")
	if fw, ok := w.(*frameWriter); ok {
		// Over a multiplexer the client has no out-of-band HTTP status line
		// to synthesize from, so emit exactly the line it would have
		// synthesized: a bare status line, with every update's headers
		// traveling in-band via writeUpdate as usual.
		fw.writeStatusLineOnly(wire.StatusSubscriptionUpdate)
	} else {
		w.WriteHeader(wire.StatusSubscriptionUpdate)
	}

	first := true
	// The client already knows exactly this frontier: nothing to emit yet.
	// Our merge types hold only current content (no retained patch log), so
	// "updates strictly after the known frontier" degenerates to "the
	// current snapshot, unless the caller is already caught up to it".
	if !sameVersions(known, frontier) {
		writeUpdate(w, first, wire.Update{Versions: frontier, Body: []byte(content)})
		flusher.Flush()
		first = false
		res.recordSubscriberAck(subID, frontier)
	}

	var deadline <-chan time.Time
	if d := h.cfg.maxSubscriptionDuration; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}

	var hbTimer *time.Timer
	var hbC <-chan time.Time
	if heartbeatInterval > 0 {
		hbTimer = time.NewTimer(heartbeatInterval)
		defer hbTimer.Stop()
		hbC = hbTimer.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline:
			return
		case <-hbC:
			// Before any message has been written the stream consists of
			// just the (possibly synthesized) status line, so the keepalive
			// is a bare blank line terminating an empty header block; after
			// that it's the usual separator-plus-blank pair.
			if first {
				if _, err := io.WriteString(w, "\r\n"); err != nil {
					return
				}
				first = false
			} else if err := writeHeartbeat(w); err != nil {
				return
			}
			flusher.Flush()
			hbTimer.Reset(heartbeatInterval)
		case u, ok := <-ch:
			if !ok {
				return
			}
			if err := writeUpdate(w, first, u); err != nil {
				return
			}
			flusher.Flush()
			first = false
			res.recordSubscriberAck(subID, u.Versions)
			if hbTimer != nil {
				if !hbTimer.Stop() {
					<-hbTimer.C
				}
				hbTimer.Reset(heartbeatInterval)
			}
		}
	}
}

func sameVersions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}

// setEscapedHeader sets a header value, escaping non-ASCII runes as \uXXXX
// per spec.md §4.6's "CORS & ASCII" so the value survives structured-header
// parsers on strict clients.
func setEscapedHeader(h http.Header, name, value string) {
	h.Set(name, escapeNonASCII(value))
}
