package merge

import (
	"fmt"
	"strconv"
	"strings"
)

// Simpleton is a range-replace merge type over a UTF-8 string: patches carry
// a "[start:end]" rune-offset range and the replacement content. It keeps no
// operation history, so concurrent edits are resolved last-writer-wins with
// no rebasing, and pruning is always a no-op.
type Simpleton struct {
	peerID      string
	content     []rune
	version     []string
	charCounter int64
}

// NewSimpleton builds a fresh instance scoped to peerID.
func NewSimpleton(peerID string) *Simpleton {
	return &Simpleton{peerID: peerID, charCounter: -1}
}

func (s *Simpleton) Name() string { return "simpleton" }

func (s *Simpleton) Initialize(content string) Result {
	s.content = []rune(content)
	return success("")
}

func (s *Simpleton) ApplyPatch(patch Patch) Result {
	start, end, ok := parseBracketRange(patch.Range)
	if !ok {
		return failure(fmt.Errorf("simpleton: invalid range format: %q", patch.Range))
	}
	if start > len(s.content) || end > len(s.content) || start > end {
		return failure(fmt.Errorf("simpleton: range out of bounds: %q (len=%d)", patch.Range, len(s.content)))
	}

	replacement := []rune(patch.Content)
	next := make([]rune, 0, len(s.content)-(end-start)+len(replacement))
	next = append(next, s.content[:start]...)
	next = append(next, replacement...)
	next = append(next, s.content[end:]...)
	s.content = next

	if patch.Version != "" {
		s.version = []string{patch.Version}
	}
	return success(firstOrEmpty(s.version))
}

// LocalEdit applies a locally originated patch and mints the version that
// identifies it, "<peer>-<char-counter>" with the counter advanced by the
// number of characters written. The whole-document forms ("everything",
// "[0:]") replace the content outright; any other range goes through the
// same range-replace arithmetic as ApplyPatch.
func (s *Simpleton) LocalEdit(patch Patch) Result {
	if patch.Range == "everything" || patch.Range == "[0:]" {
		s.content = []rune(patch.Content)
	} else if res := s.ApplyPatch(Patch{Range: patch.Range, Content: patch.Content}); !res.Success {
		return res
	}

	advance := int64(len([]rune(patch.Content)))
	if advance == 0 {
		advance = 1 // a pure delete still needs a distinct version
	}
	s.charCounter += advance
	versionID := fmt.Sprintf("%s-%d", s.peerID, s.charCounter)
	s.version = []string{versionID}

	out := patch
	out.Version = versionID
	return success(versionID, out)
}

func (s *Simpleton) Content() string { return string(s.content) }

func (s *Simpleton) Frontier() []string { return append([]string(nil), s.version...) }

func (s *Simpleton) Prune() bool { return false }

func (s *Simpleton) SupportsPruning() bool { return false }

// ParseBracketRange parses a "[start:end]" rune-offset range, exported so
// callers outside this package (the fsdaemon inbound text-sync path, which
// needs to apply a patch list without constructing a full Simpleton
// instance) can reuse the same grammar Simpleton.ApplyPatch uses.
func ParseBracketRange(r string) (start, end int, ok bool) {
	return parseBracketRange(r)
}

// parseBracketRange parses a "[start:end]" rune-offset range.
func parseBracketRange(r string) (start, end int, ok bool) {
	inner, ok := trimBrackets(r)
	if !ok {
		return 0, 0, false
	}
	parts := strings.SplitN(inner, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || start < 0 || end < 0 {
		return 0, 0, false
	}
	return start, end, true
}

func trimBrackets(r string) (string, bool) {
	if len(r) < 2 || r[0] != '[' || r[len(r)-1] != ']' {
		return "", false
	}
	return r[1 : len(r)-1], true
}

func firstOrEmpty(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
