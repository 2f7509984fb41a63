package fsdaemon

import (
	"mime"
	"os"
	"path/filepath"

	"github.com/braidfs/braidfs/internal/blobstore"
	"github.com/braidfs/braidfs/internal/fsdaemon/blobmeta"
	"go.uber.org/zap"
)

// debounceBinarySync implements spec.md §4.8's binary sync: "mtime-based.
// On file change, if mtime != stored_mtime, read the file and PUT to the
// blob store; then update stored mtime atomically." Unlike the text path,
// there is no diff to debounce against — the comparison itself (current
// mtime vs. last-synced mtime) is what prevents redundant uploads, so this
// runs synchronously off the watch event rather than through the
// debouncer.
func (d *Daemon) debounceBinarySync(path, url string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		d.log.Warn("fsdaemon: stat for binary sync", zap.String("path", path), zap.Error(err))
		return
	}
	mtimeNs := info.ModTime().UnixNano()

	state, err := d.blobMeta.Get(url)
	if err == nil && state.FileMtimeNs == mtimeNs {
		return
	}

	data, existed, err := readWithRetry(path)
	if err != nil {
		d.log.Warn("fsdaemon: read for binary sync", zap.String("path", path), zap.Error(err))
		return
	}
	if !existed {
		return
	}

	contentType := mime.TypeByExtension(extensionOf(path))
	if err := d.blobs.Put(url, []byte(data), nil, nil, contentType); err != nil {
		d.log.Warn("fsdaemon: put blob", zap.String("url", url), zap.Error(err))
		return
	}

	if err := d.blobMeta.Put(url, blobmeta.State{FileMtimeNs: mtimeNs}); err != nil {
		d.log.Warn("fsdaemon: persist blob mtime", zap.String("url", url), zap.Error(err))
	}
}

// syncInboundBlob writes an inbound blob update to its mapped path
// atomically and records the resulting mtime, so the watcher's own
// subsequent stat sees a mtime this daemon already knows about and the
// outbound half doesn't immediately re-upload what it just wrote.
func (d *Daemon) syncInboundBlob(url string, data []byte) error {
	path, err := urlToPath(d.root, url)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := blobstore.AtomicWrite(path, d.tempDir(), data); err != nil {
		return err
	}
	d.pending.Add(path)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return d.blobMeta.Put(url, blobmeta.State{FileMtimeNs: info.ModTime().UnixNano()})
}
