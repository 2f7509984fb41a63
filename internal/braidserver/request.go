package braidserver

import (
	"bytes"
	"fmt"

	"github.com/braidfs/braidfs/internal/wire"
)

// decodeMultiPatchBody parses a PUT body that carries an explicit
// `Patches: N` header into its N wire.Patch sub-messages. Rather than
// reimplementing MessageParser's patch sub-block grammar, it re-wraps the
// request's own headers and body as a synthetic single message and hands it
// to a fresh wire.MessageParser, reusing the exact grammar the subscription
// stream and the client both already rely on.
func decodeMultiPatchBody(versionHdr, parentsHdr, patchesHdr string, body []byte) ([]wire.Patch, error) {
	var buf bytes.Buffer
	buf.WriteString("PUT 200 Update\r\n")
	if versionHdr != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderVersion, versionHdr)
	}
	if parentsHdr != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderParents, parentsHdr)
	}
	fmt.Fprintf(&buf, "%s: %s\r\n\r\n", wire.HeaderPatches, patchesHdr)
	buf.Write(body)

	parser := wire.NewMessageParser()
	parser.Feed(buf.Bytes())
	msg, err := parser.Next()
	if err != nil {
		return nil, err
	}
	return msg.Update.Patches, nil
}

func firstOrEmpty(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
