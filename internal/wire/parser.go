package wire

import (
	"bytes"
	"errors"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrIncomplete is returned by (*MessageParser).Next when the buffered bytes
// end mid-message; the caller should Feed more bytes and call Next again.
// It is not a protocol error.
var ErrIncomplete = errors.New("wire: incomplete message, feed more bytes")

// ErrHeaderParse signals a malformed status line or header block.
type ErrHeaderParse struct{ Detail string }

func (e *ErrHeaderParse) Error() string { return "wire: header parse: " + e.Detail }

// Message is one parsed element of a subscription response: either a real
// Update with a status code and headers, or a Heartbeat (blank keepalive
// line, carries no data).
type Message struct {
	Status    int
	Header    map[string][]string
	Update    Update
	Heartbeat bool
}

// MessageParser implements the streaming message parser state machine of
// spec.md §4.1: Status -> Headers -> Body(N) | Patches(K, PatchHdr,
// PatchBody). It consumes bytes incrementally via Feed and yields Message
// values (or ErrIncomplete) via Next.
//
// The first message in a stream begins directly with a status line; every
// subsequent message begins with a blank line followed by either another
// blank line (a heartbeat) or a status line and headers.
type MessageParser struct {
	buf        []byte
	sawFirst   bool
	pendingErr error
}

// NewMessageParser creates a parser ready to read the first message's status
// line from the first bytes Fed to it.
func NewMessageParser() *MessageParser {
	return &MessageParser{}
}

// Feed appends newly received bytes to the parser's internal buffer.
func (p *MessageParser) Feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// Next attempts to parse one Message out of the buffered bytes. It returns
// ErrIncomplete (comparable with errors.Is) if the buffer doesn't yet
// contain a full message; the caller should Feed more and retry.
func (p *MessageParser) Next() (Message, error) {
	if p.pendingErr != nil {
		return Message{}, p.pendingErr
	}

	pos := 0
	if p.sawFirst {
		line, next, ok := readLine(p.buf, pos)
		if !ok {
			return Message{}, ErrIncomplete
		}
		if strings.TrimSpace(line) != "" {
			err := &ErrHeaderParse{Detail: "expected blank line before next message, got " + line}
			p.pendingErr = err
			return Message{}, err
		}
		pos = next
	}

	statusLine, next, ok := readLine(p.buf, pos)
	if !ok {
		return Message{}, ErrIncomplete
	}
	if strings.TrimSpace(statusLine) == "" {
		p.buf = p.buf[next:]
		p.sawFirst = true
		return Message{Heartbeat: true}, nil
	}
	pos = next

	status, err := parseStatusLine(statusLine)
	if err != nil {
		p.pendingErr = err
		return Message{}, err
	}

	header, next, ok := readHeaderBlock(p.buf, pos)
	if !ok {
		return Message{}, ErrIncomplete
	}
	pos = next

	// spec.md §9's resolved open question: "Patches: 0" is indistinguishable
	// from an absent Patches header — both mean the body is a plain
	// snapshot, read via Content-Length/Content-Range below. Without this,
	// a zero-patch body would be "consumed" without reading the
	// Content-Length bytes that follow it, corrupting the next Next() call.
	n := patchCount(header)
	if n > 0 {
		patches, consumed, perr := readPatches(p.buf[pos:], n)
		if perr == ErrIncomplete {
			return Message{}, ErrIncomplete
		}
		if perr != nil {
			p.pendingErr = perr
			return Message{}, perr
		}
		p.buf = p.buf[pos+consumed:]
		p.sawFirst = true
		return Message{
			Status: status,
			Header: header,
			Update: Update{
				Versions:  header[HeaderVersion],
				Parents:   header[HeaderParents],
				MergeType: firstOrEmpty(header[HeaderMergeType]),
				Patches:   patches,
			},
		}, nil
	}

	bodyLen, hasLen, err := bodyLength(header)
	if err != nil {
		p.pendingErr = err
		return Message{}, err
	}
	if !hasLen && len(header) == 0 {
		// A status line followed by a completely empty header block is a
		// keepalive in first position: the server had nothing to say yet
		// (a resumed subscription already at the caller's frontier) but
		// must keep the heartbeat cadence. A real update always carries at
		// least one header.
		p.buf = p.buf[pos:]
		p.sawFirst = true
		return Message{Heartbeat: true}, nil
	}
	if !hasLen {
		bodyLen = 0
	}
	if len(p.buf)-pos < bodyLen {
		return Message{}, ErrIncomplete
	}
	body := append([]byte(nil), p.buf[pos:pos+bodyLen]...)
	p.buf = p.buf[pos+bodyLen:]
	p.sawFirst = true

	return Message{
		Status: status,
		Header: header,
		Update: Update{
			Versions:  header[HeaderVersion],
			Parents:   header[HeaderParents],
			MergeType: firstOrEmpty(header[HeaderMergeType]),
			Body:      body,
		},
	}, nil
}

// readLine returns the content of the line starting at pos (not including
// the terminator) and the offset just past it. ok is false if no full line
// (terminated by \n) is available yet.
func readLine(buf []byte, pos int) (line string, next int, ok bool) {
	idx := bytes.IndexByte(buf[pos:], '\n')
	if idx < 0 {
		return "", 0, false
	}
	end := pos + idx
	l := buf[pos:end]
	l = bytes.TrimSuffix(l, []byte("\r"))
	return string(l), end + 1, true
}

// readHeaderBlock reads header lines until a blank line, parsing each as
// "Name: value". It returns false if the blank line hasn't arrived yet.
func readHeaderBlock(buf []byte, pos int) (map[string][]string, int, bool) {
	header := map[string][]string{}
	for {
		line, next, ok := readLine(buf, pos)
		if !ok {
			return nil, 0, false
		}
		pos = next
		if line == "" {
			return header, pos, true
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])
		header[name] = append(header[name], value)
	}
}

func firstOrEmpty(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// parseStatusLine accepts both a full HTTP status line ("HTTP/1.1 209
// Subscription") and the shortened in-band form subsequent subscription
// messages carry ("209 Update"): the code is whichever of the first two
// fields parses as an integer.
func parseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, &ErrHeaderParse{Detail: "malformed status line " + line}
	}
	if code, err := strconv.Atoi(fields[0]); err == nil {
		return code, nil
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, &ErrHeaderParse{Detail: "malformed status code in " + line}
	}
	return code, nil
}

// bodyLength derives the body length from Content-Length or, failing that,
// from Content-Range (unit start-end/total -> end-start).
func bodyLength(header map[string][]string) (n int, ok bool, err error) {
	if cl := firstOrEmpty(header[HeaderContentLength]); cl != "" {
		v, perr := strconv.Atoi(cl)
		if perr != nil {
			return 0, false, &ErrHeaderParse{Detail: "malformed Content-Length"}
		}
		return v, true, nil
	}
	if cr := firstOrEmpty(header[HeaderContentRange]); cr != "" {
		_, rng, perr := ParseContentRange(cr)
		if perr != nil {
			return 0, false, perr
		}
		start, end, perr := parseRangeBounds(rng)
		if perr != nil {
			return 0, false, perr
		}
		return end - start, true, nil
	}
	return 0, false, nil
}

// parseRangeBounds parses "start-end/total" or "start-end" into start, end.
func parseRangeBounds(rng string) (start, end int, err error) {
	rng = strings.SplitN(rng, "/", 2)[0]
	parts := strings.SplitN(rng, "-", 2)
	if len(parts) != 2 {
		return 0, 0, &ErrHeaderParse{Detail: "malformed range " + rng}
	}
	start, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, &ErrHeaderParse{Detail: "malformed range start " + rng}
	}
	end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, &ErrHeaderParse{Detail: "malformed range end " + rng}
	}
	return start, end, nil
}

func patchCount(header map[string][]string) int {
	v := firstOrEmpty(header[HeaderPatches])
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// readPatches reads K consecutive patch sub-messages, each with its own
// Content-Length/Content-Range header block followed by raw body bytes. It
// returns the patches and the number of bytes of buf consumed.
func readPatches(buf []byte, k int) ([]Patch, int, error) {
	patches := make([]Patch, 0, k)
	pos := 0
	for i := 0; i < k; i++ {
		header, next, ok := readHeaderBlock(buf, pos)
		if !ok {
			return nil, 0, ErrIncomplete
		}
		pos = next

		var unit, rng string
		if cr := firstOrEmpty(header[HeaderContentRange]); cr != "" {
			u, rg, perr := ParseContentRange(cr)
			if perr != nil {
				return nil, 0, perr
			}
			unit, rng = u, rg
		}

		bodyLen, hasLen, err := bodyLength(header)
		if err != nil {
			return nil, 0, err
		}
		if !hasLen {
			bodyLen = 0
		}
		if len(buf)-pos < bodyLen {
			return nil, 0, ErrIncomplete
		}
		content := append([]byte(nil), buf[pos:pos+bodyLen]...)
		pos += bodyLen
		patches = append(patches, Patch{Unit: Unit(unit), Range: rng, Content: content})
	}
	return patches, pos, nil
}
