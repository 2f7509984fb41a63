package fsdaemon

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// urlToPath maps a remote Braid resource URL onto a path under root,
// grounded on spec.md §4.8's URL↔path mapping: the host and port become one
// directory segment joined by "+" (so the colon in "host:port" never has to
// survive on filesystems that reject it), and an empty or trailing-slash
// path becomes the literal segment "index".
func urlToPath(root, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fsdaemon: invalid URL %q: %w", rawURL, err)
	}

	host := u.Hostname()
	port := u.Port()
	hostSeg := host
	if port != "" {
		hostSeg = host + "+" + port
	}

	segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		segments = []string{"index"}
	} else if segments[len(segments)-1] == "" {
		// Trailing slash: last split segment is empty, swap it for "index".
		segments[len(segments)-1] = "index"
	}

	parts := append([]string{root, hostSeg}, segments...)
	return filepath.Join(parts...), nil
}

// pathToURL reverses urlToPath, recovering the Braid URL a local projection
// path was written for. Both root and path are canonicalized first
// (filepath.Abs, then filepath.EvalSymlinks; path is resolved through its
// parent directory, since a just-deleted file no longer resolves) so
// symlinked roots and relative spellings don't break the prefix strip, per
// spec.md §4.8.
func pathToURL(root, path, scheme string) (string, error) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if realDir, err := filepath.EvalSymlinks(filepath.Dir(path)); err == nil {
		path = filepath.Join(realDir, filepath.Base(path))
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("fsdaemon: path %q is not under root %q: %w", path, root, err)
	}
	rel = filepath.ToSlash(rel)
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("fsdaemon: path %q escapes root %q", path, root)
	}

	segments := strings.Split(rel, "/")
	if len(segments) == 0 {
		return "", fmt.Errorf("fsdaemon: empty path")
	}
	hostSeg := segments[0]
	urlPath := segments[1:]

	host := hostSeg
	port := ""
	if i := strings.LastIndex(hostSeg, "+"); i >= 0 {
		host, port = hostSeg[:i], hostSeg[i+1:]
	}

	if len(urlPath) == 1 && urlPath[0] == "index" {
		urlPath = nil
	} else if n := len(urlPath); n > 0 && urlPath[n-1] == "index" {
		urlPath[n-1] = ""
	}

	hostport := host
	if port != "" {
		hostport = host + ":" + port
	}

	u := url.URL{
		Scheme: scheme,
		Host:   hostport,
		Path:   "/" + strings.Join(urlPath, "/"),
	}
	return u.String(), nil
}
