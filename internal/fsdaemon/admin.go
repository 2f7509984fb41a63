package fsdaemon

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/braidfs/braidfs/internal/blobstore"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// handleProjection serves spec.md §6's "GET/PUT of local projections": the
// request path, relative to root, addresses a projected file directly, so a
// local tool can read or write it without going through the upstream Braid
// server at all. A PUT here is indistinguishable from a local edit made by
// any other program — the watcher picks it up and syncs it out on the next
// debounce tick the same as it would for an editor's save.
func (d *Daemon) handleProjection(w http.ResponseWriter, r *http.Request) {
	path := filepath.Join(d.root, filepath.Clean("/"+r.URL.Path))

	switch r.Method {
	case http.MethodGet:
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if ext := filepath.Ext(path); ext != "" {
			if ct := mime.TypeByExtension(ext); ct != "" {
				w.Header().Set("Content-Type", ct)
			}
		}
		w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := blobstore.AtomicWrite(path, d.tempDir(), data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *Daemon) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	key, err := blobstore.DecodeKey(hash)
	if err != nil {
		http.Error(w, "invalid blob key", http.StatusBadRequest)
		return
	}
	data, meta, err := d.blobs.Get(key)
	if err != nil {
		if err == blobstore.ErrNotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var mismatch *blobstore.ErrChecksumMismatch
		if errors.As(err, &mismatch) {
			d.persistError("blob-get", key, err)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Write(data)
}

func (d *Daemon) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	key, err := blobstore.DecodeKey(hash)
	if err != nil {
		http.Error(w, "invalid blob key", http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	contentType := r.Header.Get("Content-Type")
	if err := d.blobs.Put(key, data, nil, nil, contentType); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if url := r.URL.Query().Get("url"); url != "" {
		if err := d.syncInboundBlob(url, data); err != nil {
			d.log.Warn("fsdaemon: materialize blob projection", zap.String("url", url), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusOK)
}

// handleSync implements the admin API's sync/unsync commands: POST
// /sync?url=... marks url actively synced and starts its subscription;
// POST /unsync?url=... stops it.
func (d *Daemon) handleSync(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	synced := r.URL.Path == "/sync"
	if err := d.SetSynced(url, synced); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
