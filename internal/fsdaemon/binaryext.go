package fsdaemon

import "strings"

// binaryExtensions lists the file extensions routed to the binary-sync path
// instead of the text-diff path, per spec.md §4.8: "touch files whose
// extension is in the binary list are routed to the binary sync path
// instead of the text sync path." The original's fs/watcher.rs hardcodes
// a similar extension allowlist; this keeps the same common-media-formats
// set rather than inventing a different one.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".svg": false, // svg is text/xml, kept off the binary list
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".7z": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
}

// isBinaryPath reports whether path's extension routes through the binary
// sync path rather than the text-diff one.
func isBinaryPath(path string) bool {
	ext := extensionOf(path)
	return binaryExtensions[ext]
}

func extensionOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
