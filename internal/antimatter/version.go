package antimatter

import (
	"fmt"
	"sort"
	"strings"
)

// FrontierKey derives a stable, order-independent key for a version set,
// used to correlate an ackme round's proposed boundary (StartAckmeRound)
// with the Ack messages peers later send acknowledging that same boundary
// (AckRound), without the protocol needing to hand out separate round IDs.
func FrontierKey(versions map[string]bool) string {
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

// FrontierAdd implements spec.md §4.2's frontier_add: adding a version v
// with parent set P removes every member of P from the frontier and
// inserts v, preserving the invariant that the frontier is exactly the set
// of versions with no children (property 2, frontier monotonicity).
func (c *CRDT[T]) FrontierAdd(v string, parents map[string]bool) {
	for p := range parents {
		delete(c.CurrentVersion, p)
	}
	c.CurrentVersion[v] = true
}

// AddVersion records a new version and its parents in the DAG and advances
// the frontier accordingly. It does not apply any patch to the inner CRDT;
// callers that also need content application should call Inner.ApplyPatch
// separately (mirroring the original's explicit `add_version` vs
// `apply_patch` split).
func (c *CRDT[T]) AddVersion(v string, parents map[string]bool) {
	cp := make(map[string]bool, len(parents))
	for p := range parents {
		cp[p] = true
	}
	c.T[v] = cp
	c.FrontierAdd(v, parents)
}

// Ancestors performs a DFS over the version graph starting from every
// member of v, accumulating the reached set (v's members are included).
// If ignoreMissing is false, encountering a parent that isn't a key of T
// and isn't itself inside a version group aborts with an error naming the
// missing version, mirroring the original's
// `BraidError::Internal("the version {} does not exist")`.
func (c *CRDT[T]) Ancestors(v map[string]bool, ignoreMissing bool) (map[string]bool, error) {
	seen := map[string]bool{}
	var walk func(id string) error
	walk = func(id string) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		parents, ok := c.T[id]
		if !ok {
			if ignoreMissing || c.representativeOf(id) != "" {
				return nil
			}
			return fmt.Errorf("antimatter: the version %s does not exist", id)
		}
		for p := range parents {
			if err := walk(p); err != nil {
				return err
			}
		}
		return nil
	}
	for id := range v {
		if err := walk(id); err != nil {
			return nil, err
		}
	}
	return seen, nil
}

// representativeOf reports the version-group representative that id was
// collapsed into, if any, or "" if id is not a recorded collapsed member.
func (c *CRDT[T]) representativeOf(id string) string {
	for rep, members := range c.VersionGroups {
		for _, m := range members {
			if m == id {
				return rep
			}
		}
	}
	return ""
}

// Descendants is the dual of Ancestors, computed via the child map.
func (c *CRDT[T]) Descendants(v map[string]bool) map[string]bool {
	children := childMap(c.T)
	seen := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for ch := range children[id] {
			walk(ch)
		}
	}
	for id := range v {
		walk(id)
	}
	return seen
}

// IsAncestor reports whether a is an ancestor of b.
func (c *CRDT[T]) IsAncestor(a, b string) (bool, error) {
	anc, err := c.Ancestors(map[string]bool{b: true}, true)
	if err != nil {
		return false, err
	}
	return anc[a], nil
}

// childMap inverts a parent map (version -> set<parent>) into a child map
// (version -> set<child>), used by Descendants and the bubble-discovery
// algorithm in bubble.go.
func childMap(t map[string]map[string]bool) map[string]map[string]bool {
	children := make(map[string]map[string]bool, len(t))
	for v := range t {
		if _, ok := children[v]; !ok {
			children[v] = map[string]bool{}
		}
	}
	for v, parents := range t {
		for p := range parents {
			if children[p] == nil {
				children[p] = map[string]bool{}
			}
			children[p][v] = true
		}
	}
	return children
}
