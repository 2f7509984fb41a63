package fsdaemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchRecursive adds dir and every subdirectory beneath it to the
// watcher, the same "Add() per directory on create" shape
// other_examples' braid-mock NewBraidMockServer uses, since fsnotify
// itself only watches one directory level at a time.
func (d *Daemon) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return d.watcher.Add(path)
		}
		return nil
	})
}

// watchLoop dispatches fsnotify events until ctx is done: new directories
// are added to the watch set, new files trigger auto-insertion into the
// sync table (spec.md §4.8: "create previously-unwatched URLs auto-insert
// url -> true into config.sync and spawn a subscription"), and writes
// matching our own pending set are ignored as echoes of a just-completed
// inbound sync.
func (d *Daemon) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleWatchEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.log.Warn("fsdaemon: watcher error", zap.Error(err))
		}
	}
}

func (d *Daemon) handleWatchEvent(ctx context.Context, event fsnotify.Event) {
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := d.watcher.Add(event.Name); err != nil {
				d.log.Warn("fsdaemon: watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if d.pending.Contains(event.Name) {
		return
	}

	url, err := pathToURL(d.root, event.Name, d.scheme)
	if err != nil {
		return
	}

	if !d.cfg.IsSynced(url) {
		if err := d.cfg.EnsureTracked(url); err != nil {
			d.log.Warn("fsdaemon: track new url", zap.String("url", url), zap.Error(err))
			return
		}
		if d.cfg.IsSynced(url) {
			d.startSubscription(url)
		}
	}

	if isBinaryPath(event.Name) {
		d.debounceBinarySync(event.Name, url)
		return
	}

	delay := debounceDelay(d.cfg.Snapshot().DebounceMs)
	d.deb.Push(url, event.Name, delay)
}
