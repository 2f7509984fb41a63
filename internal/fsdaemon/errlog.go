package fsdaemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// persistError appends a terminal error to .braidfs/errors, the
// user-readable log spec.md §7 reserves for failures that won't resolve on
// their own (history dropped, access denied, checksum mismatch): transient
// errors only go to the structured log, terminal ones also land here so a
// user can see why a file stopped syncing without reading daemon output.
func (d *Daemon) persistError(op, url string, err error) {
	d.errMu.Lock()
	defer d.errMu.Unlock()

	path := filepath.Join(d.root, ".braidfs", "errors")
	f, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		d.log.Warn("fsdaemon: open error log", zap.Error(openErr))
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s: %v\n", time.Now().UTC().Format(time.RFC3339), op, url, err)
	if _, writeErr := f.WriteString(line); writeErr != nil {
		d.log.Warn("fsdaemon: append error log", zap.Error(writeErr))
	}
}
