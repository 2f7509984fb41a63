package wire

import (
	"bytes"
	"fmt"
)

// EncodeMultiPatchBody renders patches as the body accompanying a
// `Patches: N` header, the inverse of readPatches: each patch is its own
// Content-Length/Content-Range header block (terminated by the blank line
// readHeaderBlock expects) immediately followed by its raw content bytes,
// with no extra separator between patches — exactly the shape
// braidserver.decodeMultiPatchBody's synthetic single-message re-wrap
// parses back out.
func EncodeMultiPatchBody(patches []Patch) []byte {
	var buf bytes.Buffer
	for _, p := range patches {
		fmt.Fprintf(&buf, "%s: %d\r\n", HeaderContentLength, len(p.Content))
		if p.Range != "" || p.Unit != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", HeaderContentRange, FormatContentRange(string(p.Unit), p.Range))
		}
		buf.WriteString("\r\n")
		buf.Write(p.Content)
	}
	return buf.Bytes()
}
