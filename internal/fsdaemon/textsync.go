package fsdaemon

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/braidfs/braidfs/internal/blobstore"
	"github.com/braidfs/braidfs/internal/braidclient"
	"github.com/braidfs/braidfs/internal/fsdaemon/versionstore"
	"github.com/braidfs/braidfs/internal/merge"
	"github.com/braidfs/braidfs/internal/wire"
	"go.uber.org/zap"
)

// debounceDelay returns the configured debounce window, defaulting to
// spec.md §4.8's 10ms when unset. The debouncer applies it only to events
// for URLs that already have a sync pending; the first event of a burst
// always gets debounce.go's firstEventDelay.
func debounceDelay(configuredMs int) time.Duration {
	if configuredMs <= 0 {
		return firstEventDelay
	}
	return time.Duration(configuredMs) * time.Millisecond
}

// readRetryLimit and readRetryDelay implement spec.md §4.8's "Read the
// file (up to 3 retries on PermissionDenied/SharingViolation, 100 ms
// apart)". Go's os package reports both conditions as os.IsPermission
// (SharingViolation is a Windows-only errno this process never sees).
const readRetryLimit = 3

var readRetryDelay = 100 * time.Millisecond

// readWithRetry reads path, retrying on a permission error up to
// readRetryLimit times. A NotFound error yields ("", false, nil): spec.md's
// "NotFound -> propagate empty content (i.e. a deletion)".
func readWithRetry(path string) (content string, existed bool, err error) {
	var lastErr error
	for attempt := 0; attempt <= readRetryLimit; attempt++ {
		data, readErr := os.ReadFile(path)
		if readErr == nil {
			return string(data), true, nil
		}
		if os.IsNotExist(readErr) {
			return "", false, nil
		}
		if !os.IsPermission(readErr) {
			return "", false, readErr
		}
		lastErr = readErr
		if attempt < readRetryLimit {
			time.Sleep(readRetryDelay)
		}
	}
	return "", false, lastErr
}

// performSync implements spec.md §4.8's outbound sync: read the changed
// file, diff it against the content cache's last-synced copy, and PUT the
// resulting patches (or an Initialize-style whole-body write, for a URL
// with no cached copy yet). A deleted file is synced as empty content.
func (d *Daemon) performSync(ctx context.Context, url, path string) {
	content, existed, err := readWithRetry(path)
	if err != nil {
		d.log.Warn("fsdaemon: read for sync", zap.String("path", path), zap.Error(err))
		return
	}
	if !existed {
		content = ""
	}

	previous, hadPrevious := d.cache.Get(url)
	entry, verErr := d.versions.Get(url)
	var parents []string
	if verErr == nil {
		parents = entry.CurrentVersion
	}

	var patches []wire.Patch
	if !hadPrevious {
		// First time this URL has been synced out: a whole-document write,
		// mirroring braidserver's own "PUT without Content-Range/Patches is
		// a snapshot" semantics.
		patches = []wire.Patch{{Content: []byte(content)}}
	} else if extensionOf(path) == ".json" {
		// Range here is the "<op> <json-pointer>" grammar
		// merge.ComputeJSONPatches/JSONDoc.ApplyPatch speak, not the
		// generic wire Content-Range grammar, so it's carried through
		// verbatim rather than via wire.ParseContentRange.
		mergePatches, jerr := merge.ComputeJSONPatches([]byte(previous), []byte(content))
		if jerr != nil {
			d.log.Warn("fsdaemon: json diff", zap.String("url", url), zap.Error(jerr))
			return
		}
		for _, mp := range mergePatches {
			patches = append(patches, wire.Patch{Unit: "json", Range: mp.Range, Content: []byte(mp.Content)})
		}
		if len(patches) == 0 {
			return
		}
	} else {
		patches = computePatches(previous, content)
		if patches == nil {
			return
		}
	}

	resp, err := d.client.Put(ctx, url, braidclient.PutRequest{Parents: parents, Patches: patches})
	if err != nil {
		if !errors.Is(err, braidclient.ErrAborted) && ctx.Err() == nil {
			d.persistError("put", url, err)
		}
		d.log.Warn("fsdaemon: put", zap.String("url", url), zap.Error(err))
		return
	}

	d.cache.Set(url, content)
	if err := d.versions.Put(url, versionstore.Entry{CurrentVersion: resp, Parents: parents}); err != nil {
		d.log.Warn("fsdaemon: persist version", zap.String("url", url), zap.Error(err))
	}
}

// syncInbound runs one URL's subscription for its lifetime (spec.md
// §4.8's "Text sync (inbound)"): for each update, write the content
// atomically to the mapped path, refresh the content cache and version
// store, and mark the path pending so the watcher doesn't echo it back
// out as a local edit. It returns the terminal error that ended the
// stream, if any, so the supervisor can decide whether reconnecting is
// even worth attempting.
func (d *Daemon) syncInbound(ctx context.Context, url string) error {
	var known []string
	if entry, err := d.versions.Get(url); err == nil {
		known = entry.CurrentVersion
	}

	path, err := urlToPath(d.root, url)
	if err != nil {
		d.log.Warn("fsdaemon: map url to path", zap.String("url", url), zap.Error(err))
		return err
	}

	sub := d.client.Subscribe(ctx, url, known, 30)
	defer sub.Close()

	for event := range sub.Events() {
		if event.Err != nil {
			if errors.Is(event.Err, braidclient.ErrHistoryDropped) {
				d.cache.Delete(url)
				if err := d.versions.Delete(url); err != nil {
					d.log.Warn("fsdaemon: clear version on history drop", zap.String("url", url), zap.Error(err))
				}
			}
			d.limiter.OnDiss(url)
			// The subscription's own retry loop already absorbed everything
			// retryable; whatever surfaces here is terminal for this
			// connection and worth a user-visible record.
			d.persistError("subscribe", url, event.Err)
			d.log.Info("fsdaemon: subscription ended", zap.String("url", url), zap.Error(event.Err))
			return event.Err
		}
		d.limiter.OnConn(url)

		content := resolveContent(d.cache, url, event.Update)
		if err := blobstore.AtomicWrite(path, d.tempDir(), []byte(content)); err != nil {
			d.log.Warn("fsdaemon: write projection", zap.String("path", path), zap.Error(err))
			continue
		}
		d.pending.Add(path)
		d.cache.Set(url, content)
		if err := d.versions.Put(url, versionstore.Entry{CurrentVersion: event.Update.Versions, Parents: event.Update.Parents}); err != nil {
			d.log.Warn("fsdaemon: persist version", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

// resolveContent applies an inbound Update to the cached content: a
// snapshot replaces it outright; a patch list applies each range/content
// pair in order, the same simpleton-style range-replace arithmetic
// internal/merge.Simpleton.ApplyPatch uses, kept separate here since the
// daemon only needs the resulting text, not a full merge-type instance.
func resolveContent(cache *contentCache, url string, u wire.Update) string {
	if u.IsSnapshot() {
		return string(u.Body)
	}
	content, _ := cache.Get(url)
	runes := []rune(content)
	for _, p := range u.Patches {
		start, end, ok := merge.ParseBracketRange(p.Range)
		if !ok {
			continue
		}
		if start > len(runes) || end > len(runes) || start > end {
			continue
		}
		replacement := []rune(string(p.Content))
		next := make([]rune, 0, len(runes)-(end-start)+len(replacement))
		next = append(next, runes[:start]...)
		next = append(next, replacement...)
		next = append(next, runes[end:]...)
		runes = next
	}
	return string(runes)
}

func (d *Daemon) tempDir() string {
	return d.root + "/.braidfs/temp"
}
