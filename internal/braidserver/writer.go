package braidserver

import (
	"bytes"
	"fmt"
	"io"

	"github.com/braidfs/braidfs/internal/wire"
)

// writeUpdate serializes u onto w following internal/wire.MessageParser's
// grammar (spec.md §4.1). The very first message of a 209 subscription
// response has no message-level status line of its own: the real HTTP
// status line *is* that first message's status line, and the client
// synthesizes an equivalent line locally since net/http has already
// consumed it (see braidclient.subscribeOnce). Every later message must
// carry its own in-band status line, preceded by the mandatory blank-line
// separator.
func writeUpdate(w io.Writer, first bool, u wire.Update) error {
	var buf bytes.Buffer
	if !first {
		buf.WriteString("\r\n209 Update\r\n")
	}

	if len(u.Versions) > 0 {
		fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderVersion, wire.FormatVersionHeader(u.Versions))
	}
	if len(u.Parents) > 0 {
		fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderParents, wire.FormatVersionHeader(u.Parents))
	} else {
		fmt.Fprintf(&buf, "%s: \r\n", wire.HeaderParents)
	}
	if u.MergeType != "" {
		fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderMergeType, u.MergeType)
	}

	if len(u.Patches) > 0 {
		fmt.Fprintf(&buf, "%s: %d\r\n\r\n", wire.HeaderPatches, len(u.Patches))
		for _, p := range u.Patches {
			if p.Range != "" {
				unit := p.Unit
				if unit == "" {
					unit = wire.UnitText
				}
				fmt.Fprintf(&buf, "%s: %s\r\n", wire.HeaderContentRange, wire.FormatContentRange(string(unit), p.Range))
			}
			fmt.Fprintf(&buf, "%s: %d\r\n\r\n", wire.HeaderContentLength, len(p.Content))
			buf.Write(p.Content)
		}
	} else {
		fmt.Fprintf(&buf, "%s: %d\r\n\r\n", wire.HeaderContentLength, len(u.Body))
		buf.Write(u.Body)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// writeHeartbeat writes the blank-line-pair a subscriber's heartbeat
// injector emits during inactivity: the mandatory inter-message separator
// followed by the blank line MessageParser.Next reads as a heartbeat.
func writeHeartbeat(w io.Writer) error {
	_, err := w.Write([]byte("\r\n\r\n"))
	return err
}
