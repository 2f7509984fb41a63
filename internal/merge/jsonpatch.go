package merge

import (
	"encoding/json"
	"fmt"

	"github.com/wI2L/jsondiff"
)

// ComputeJSONPatches diffs two JSON documents into the unit=json Patch list
// spec.md §3 describes ("range is a unit-specific locator... `.field.sub`
// for JSON path"), grounded directly on braid-mock's sendPatchUpdate: that
// handler calls jsondiff.CompareJSON(old, new) and writes one wire patch
// per returned operation, Content-Range carrying "<op.Type> <op.Path>" and
// the body carrying the JSON-encoded op.Value. This reproduces that same
// shape as merge.Patch values instead of writing directly to a
// ResponseWriter, so both LocalEdit (outbound) and diff-based fsdaemon
// JSON routing can share it.
func ComputeJSONPatches(oldJSON, newJSON []byte) ([]Patch, error) {
	ops, err := jsondiff.CompareJSON(oldJSON, newJSON)
	if err != nil {
		return nil, fmt.Errorf("merge: compare JSON: %w", err)
	}

	patches := make([]Patch, 0, len(ops))
	for _, op := range ops {
		valueJSON, err := json.Marshal(op.Value)
		if err != nil {
			return nil, fmt.Errorf("merge: marshal patch value: %w", err)
		}
		patches = append(patches, Patch{
			Range:   fmt.Sprintf("%s %s", op.Type, op.Path),
			Content: string(valueJSON),
		})
	}
	return patches, nil
}

// JSONDoc is a merge type wrapping Simpleton-style last-writer-wins
// replacement, but routing unit=json patches through ComputeJSONPatches so
// a resource whose content is a structured JSON document emits/accepts
// `<op> <JSON pointer>` ranges (e.g. `replace /age`) instead of character
// ranges. Registered as
// "json" alongside "simpleton"/"diamond"/"antimatter" (spec.md §4.4 names
// only those three as built-ins; this is the JSON-patch companion the
// DOMAIN STACK's jsondiff wiring motivates).
type JSONDoc struct {
	peerID      string
	content     []byte
	version     []string
	charCounter int64
}

// NewJSONDoc builds a fresh instance scoped to peerID.
func NewJSONDoc(peerID string) *JSONDoc {
	return &JSONDoc{peerID: peerID, content: []byte("null"), charCounter: -1}
}

func (j *JSONDoc) Name() string { return "json" }

func (j *JSONDoc) Initialize(content string) Result {
	j.content = []byte(content)
	return success("")
}

// ApplyPatch applies a single `<op> .path` range (as produced by
// ComputeJSONPatches) via encoding/json's generic map/slice decoding, a
// small interpreter over jsondiff's own operation vocabulary
// (add/replace/remove) rather than a full RFC 6902 library, since the
// pack's only JSON-patch dependency is jsondiff itself (a differ, not an
// applier).
func (j *JSONDoc) ApplyPatch(patch Patch) Result {
	op, path, ok := splitJSONRange(patch.Range)
	if !ok {
		return failure(fmt.Errorf("merge: invalid json patch range %q", patch.Range))
	}

	var doc interface{}
	if err := json.Unmarshal(j.content, &doc); err != nil {
		return failure(fmt.Errorf("merge: decode current JSON content: %w", err))
	}

	var value interface{}
	if op != "remove" {
		if err := json.Unmarshal([]byte(patch.Content), &value); err != nil {
			return failure(fmt.Errorf("merge: decode patch value: %w", err))
		}
	}

	doc, err := applyJSONPointerOp(doc, path, op, value)
	if err != nil {
		return failure(err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return failure(fmt.Errorf("merge: encode updated JSON content: %w", err))
	}
	j.content = out
	if patch.Version != "" {
		j.version = []string{patch.Version}
	}
	return success(firstOrEmpty(j.version))
}

func (j *JSONDoc) LocalEdit(patch Patch) Result {
	if patch.Range != "" {
		return j.ApplyPatch(patch)
	}
	old := j.content
	patches, err := ComputeJSONPatches(old, []byte(patch.Content))
	if err != nil {
		return failure(err)
	}
	// Store the same re-encoded form ApplyPatch produces, so a replica that
	// replays the emitted patches ends up with identical content.
	var decoded interface{}
	if err := json.Unmarshal([]byte(patch.Content), &decoded); err != nil {
		return failure(fmt.Errorf("merge: decode new JSON content: %w", err))
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return failure(fmt.Errorf("merge: encode new JSON content: %w", err))
	}
	j.content = canonical
	j.charCounter++
	versionID := fmt.Sprintf("%s-%d", j.peerID, j.charCounter)
	j.version = []string{versionID}
	for i := range patches {
		patches[i].Version = versionID
	}
	return success(versionID, patches...)
}

func (j *JSONDoc) Content() string { return string(j.content) }

func (j *JSONDoc) Frontier() []string { return append([]string(nil), j.version...) }

func (j *JSONDoc) Prune() bool { return false }

func (j *JSONDoc) SupportsPruning() bool { return false }

func splitJSONRange(r string) (op, path string, ok bool) {
	for i := 0; i < len(r); i++ {
		if r[i] == ' ' {
			return r[:i], r[i+1:], true
		}
	}
	return "", "", false
}

// applyJSONPointerOp applies a single RFC 6901 JSON-pointer-addressed
// add/replace/remove to doc, the minimal subset jsondiff.CompareJSON ever
// emits.
func applyJSONPointerOp(doc interface{}, pointer, op string, value interface{}) (interface{}, error) {
	segments := splitPointer(pointer)
	if len(segments) == 0 {
		if op == "remove" {
			return nil, nil
		}
		return value, nil
	}
	return setAtPointer(doc, segments, op, value)
}

func splitPointer(pointer string) []string {
	if pointer == "" || pointer == "/" {
		return nil
	}
	var segs []string
	cur := ""
	for i := 1; i < len(pointer); i++ {
		c := pointer[i]
		if c == '/' {
			segs = append(segs, unescapePointerSegment(cur))
			cur = ""
			continue
		}
		cur += string(c)
	}
	segs = append(segs, unescapePointerSegment(cur))
	return segs
}

func unescapePointerSegment(s string) string {
	out := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '~' && i+1 < len(s) {
			switch s[i+1] {
			case '1':
				out += "/"
				i++
				continue
			case '0':
				out += "~"
				i++
				continue
			}
		}
		out += string(s[i])
	}
	return out
}

func setAtPointer(doc interface{}, segments []string, op string, value interface{}) (interface{}, error) {
	seg := segments[0]
	rest := segments[1:]

	switch node := doc.(type) {
	case map[string]interface{}:
		if len(rest) == 0 {
			if op == "remove" {
				delete(node, seg)
			} else {
				node[seg] = value
			}
			return node, nil
		}
		child, ok := node[seg]
		if !ok {
			return nil, fmt.Errorf("merge: json pointer segment %q not found", seg)
		}
		updated, err := setAtPointer(child, rest, op, value)
		if err != nil {
			return nil, err
		}
		node[seg] = updated
		return node, nil
	case []interface{}:
		idx, err := pointerIndex(seg, len(node))
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			switch op {
			case "remove":
				return append(node[:idx], node[idx+1:]...), nil
			case "add":
				node = append(node, nil)
				copy(node[idx+1:], node[idx:])
				node[idx] = value
				return node, nil
			default:
				node[idx] = value
				return node, nil
			}
		}
		updated, err := setAtPointer(node[idx], rest, op, value)
		if err != nil {
			return nil, err
		}
		node[idx] = updated
		return node, nil
	default:
		return nil, fmt.Errorf("merge: json pointer segment %q addresses a scalar", seg)
	}
}

func pointerIndex(seg string, length int) (int, error) {
	if seg == "-" {
		return length, nil
	}
	var idx int
	if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx > length {
		return 0, fmt.Errorf("merge: invalid json pointer array index %q", seg)
	}
	return idx, nil
}
