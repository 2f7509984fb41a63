// Package fsdaemon implements the filesystem-to-URL sync daemon of
// spec.md §4.8: URL<->path mapping, a debounced outbound diff/PUT path, an
// inbound subscription write-back path, binary blob sync, a rate-limited
// reconnect supervisor, and a periodic mtime scanner, all rooted at
// BRAID_ROOT. Its orchestration follows other_examples' braid-mock
// server.go (the one repo in the pack that wires fsnotify, gorilla/mux and
// a Braid client/server together in one process) adapted onto this
// module's own braidclient/merge/antimatter packages instead of braid-mock's
// ad hoc JSON diffing.
package fsdaemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/braidfs/braidfs/internal/blobstore"
	"github.com/braidfs/braidfs/internal/braidclient"
	"github.com/braidfs/braidfs/internal/fsdaemon/blobmeta"
	"github.com/braidfs/braidfs/internal/fsdaemon/ratelimit"
	"github.com/braidfs/braidfs/internal/fsdaemon/versionstore"
	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Daemon is the running filesystem sync daemon: it owns the watcher,
// debouncer, version/blob stores, and one subscription goroutine per
// actively-synced URL.
type Daemon struct {
	root   string
	scheme string
	log    *zap.Logger

	cfg      *ConfigStore
	versions *versionstore.Store
	blobs    *blobstore.Store
	blobMeta *blobmeta.Store
	client   *braidclient.Client

	pending *pendingSet
	cache   *contentCache
	deb     *debouncer
	limiter *ratelimit.Limiter

	scanInterval time.Duration

	errMu sync.Mutex

	mu        sync.Mutex
	runCtx    context.Context
	watcher   *fsnotify.Watcher
	subs      map[string]context.CancelFunc
	mtimeScan map[string]time.Time
}

// Option configures a Daemon at construction, the same functional-options
// shape internal/braidserver and internal/braidclient use.
type Option func(*daemonConfig)

type daemonConfig struct {
	scheme       string
	scanInterval time.Duration
	log          *zap.Logger
	client       *braidclient.Client
}

// WithScheme overrides the default "https" scheme used when mapping
// projected paths back to URLs (spec.md §4.8's pathToURL).
func WithScheme(scheme string) Option {
	return func(c *daemonConfig) { c.scheme = scheme }
}

// WithScanInterval overrides the periodic scanner's default 30s period.
func WithScanInterval(d time.Duration) Option {
	return func(c *daemonConfig) { c.scanInterval = d }
}

// WithLogger sets the zap.Logger the daemon logs structured fields to.
func WithLogger(l *zap.Logger) Option {
	return func(c *daemonConfig) { c.log = l }
}

// WithClient overrides the default braidclient.Client (tests substitute one
// pointed at an httptest server).
func WithClient(c *braidclient.Client) Option {
	return func(cfg *daemonConfig) { cfg.client = c }
}

// Open wires up a Daemon rooted at root: ensures the .braidfs layout
// (spec.md §6) exists, opens the config/version/blob stores, and returns a
// Daemon ready for Run. It does not start watching or syncing yet.
func Open(root, peerID string, opts ...Option) (*Daemon, error) {
	cfg := daemonConfig{scheme: "https", scanInterval: 30 * time.Second, log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	braidfsDir := filepath.Join(root, ".braidfs")
	for _, dir := range []string{braidfsDir, filepath.Join(braidfsDir, "temp"), filepath.Join(braidfsDir, "trash"), filepath.Join(braidfsDir, "braid-blob-meta")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("fsdaemon: create %s: %w", dir, err)
		}
	}

	configStore, err := LoadConfigStore(filepath.Join(braidfsDir, "config"), peerID)
	if err != nil {
		return nil, fmt.Errorf("fsdaemon: load config: %w", err)
	}

	versions, err := versionstore.Open(filepath.Join(braidfsDir, "versions.json"))
	if err != nil {
		return nil, fmt.Errorf("fsdaemon: open version store: %w", err)
	}

	blobs, err := blobstore.Open(braidfsDir, cfg.log)
	if err != nil {
		versions.Close()
		return nil, fmt.Errorf("fsdaemon: open blob store: %w", err)
	}

	blobMeta, err := blobmeta.Open(filepath.Join(braidfsDir, "braid-blob-meta.db"))
	if err != nil {
		versions.Close()
		blobs.Close()
		return nil, fmt.Errorf("fsdaemon: open blob meta store: %w", err)
	}

	client := cfg.client
	if client == nil {
		client = braidclient.New(braidclient.WithPeerID(configStore.Snapshot().PeerID))
	}

	return &Daemon{
		root:         root,
		scheme:       cfg.scheme,
		log:          cfg.log,
		cfg:          configStore,
		versions:     versions,
		blobs:        blobs,
		blobMeta:     blobMeta,
		client:       client,
		pending:      newPendingSet(nil),
		cache:        newContentCache(),
		deb:          newDebouncer(nil),
		limiter:      ratelimit.New(time.Second),
		scanInterval: cfg.scanInterval,
		subs:         map[string]context.CancelFunc{},
		mtimeScan:    map[string]time.Time{},
	}, nil
}

// PeerID returns the daemon's stable peer identity: the one persisted in
// .braidfs/config, which survives restarts (the peerID passed to Open only
// seeds a fresh root's config).
func (d *Daemon) PeerID() string { return d.cfg.Snapshot().PeerID }

// Close releases the daemon's open stores and watcher. Run's goroutines
// should be stopped (via the context passed to Run) before calling Close.
func (d *Daemon) Close() error {
	d.mu.Lock()
	w := d.watcher
	d.mu.Unlock()
	if w != nil {
		w.Close()
	}
	d.versions.Close()
	d.blobs.Close()
	d.blobMeta.Close()
	return nil
}

// Run starts the watcher, debounce monitor, periodic scanner, and one
// subscription per currently-synced URL, blocking until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsdaemon: create watcher: %w", err)
	}
	d.mu.Lock()
	d.runCtx = ctx
	d.watcher = watcher
	d.mu.Unlock()

	if err := d.watchRecursive(d.root); err != nil {
		watcher.Close()
		return fmt.Errorf("fsdaemon: watch root: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.watchLoop(ctx, watcher)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.deb.run(stop, func(url, path string) { d.performSync(ctx, url, path) })
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.scanLoop(ctx)
	}()

	for url, synced := range d.cfg.Snapshot().Sync {
		if synced {
			d.startSubscription(url)
		}
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// startSubscription begins (or restarts) a subscription goroutine for url,
// replacing any existing one. Subscriptions are always scoped to Run's
// context, never a caller's (an admin request's context ends with the
// request; the subscription it started must not). Before Run has stored
// one, nothing starts: Run launches every synced URL itself.
func (d *Daemon) startSubscription(url string) {
	d.mu.Lock()
	if d.runCtx == nil || d.runCtx.Err() != nil {
		d.mu.Unlock()
		return
	}
	if cancel, ok := d.subs[url]; ok {
		cancel()
	}
	subCtx, cancel := context.WithCancel(d.runCtx)
	d.subs[url] = cancel
	d.mu.Unlock()

	go d.superviseSubscription(subCtx, url)
}

// stopSubscription cancels url's subscription goroutine, if any.
func (d *Daemon) stopSubscription(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cancel, ok := d.subs[url]; ok {
		cancel()
		delete(d.subs, url)
	}
}

// SetSynced flips url's config entry and starts/stops its subscription to
// match, the behaviour behind the admin API's sync/unsync commands.
func (d *Daemon) SetSynced(url string, synced bool) error {
	if err := d.cfg.SetSynced(url, synced); err != nil {
		return err
	}
	if synced {
		d.startSubscription(url)
	} else {
		d.stopSubscription(url)
	}
	return nil
}

// AdminRouter builds the admin HTTP API spec.md §6 describes: GET/PUT of
// local projections, GET/PUT /blobs/:hash, and sync/unsync commands, mounted
// with gorilla/mux the same way internal/braidserver.Handler.Router does.
func (d *Daemon) AdminRouter() http.Handler {
	// Match on the escaped path: blob keys are query-escaped URLs whose %2F
	// must stay inside the {hash} segment for DecodeKey to undo.
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/blobs/{hash}", d.handleBlobGet).Methods(http.MethodGet)
	r.HandleFunc("/blobs/{hash}", d.handleBlobPut).Methods(http.MethodPut)
	r.HandleFunc("/sync", d.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/unsync", d.handleSync).Methods(http.MethodPost)
	r.PathPrefix("/").HandlerFunc(d.handleProjection)
	return r
}
