package fsdaemon

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// scanLoop implements spec.md §4.8's periodic scanner: "every scan_interval
// seconds, walk the root comparing file mtimes against a cached map to
// catch events the OS watcher missed. On discrepancy, enqueue a debounced
// sync."
func (d *Daemon) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(d.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scanOnce(ctx)
		}
	}
}

func (d *Daemon) scanOnce(ctx context.Context) {
	d.pending.sweep()

	seen := map[string]time.Time{}
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		seen[path] = info.ModTime()

		d.mu.Lock()
		prior, known := d.mtimeScan[path]
		d.mu.Unlock()
		if known && prior.Equal(info.ModTime()) {
			return nil
		}

		url, uerr := pathToURL(d.root, path, d.scheme)
		if uerr != nil || !d.cfg.IsSynced(url) {
			return nil
		}
		if d.pending.Contains(path) {
			return nil
		}

		if isBinaryPath(path) {
			d.debounceBinarySync(path, url)
		} else {
			d.deb.Push(url, path, debounceDelay(d.cfg.Snapshot().DebounceMs))
		}
		return nil
	})
	if err != nil {
		d.log.Warn("fsdaemon: scan walk", zap.Error(err))
	}

	d.mu.Lock()
	d.mtimeScan = seen
	d.mu.Unlock()
}
