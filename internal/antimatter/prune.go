package antimatter

import "sort"

// Prune runs the pruning algorithm to completion (justChecking=false).
func (c *CRDT[T]) Prune() bool { return c.pruneWithTime(false) }

// WouldPrune reports whether a Prune call would change any state, without
// mutating anything (justChecking=true).
func (c *CRDT[T]) WouldPrune() bool { return c.pruneWithTime(true) }

// pruneWithTime implements spec.md §4.3's five-step algorithm.
func (c *CRDT[T]) pruneWithTime(justChecking bool) bool {
	// 1. Fissure matching: both (a,b,conn) and (b,a,conn) present.
	var toDelete []string
	for key, f := range c.Fissures {
		mirror := f.mirrorKey()
		if _, ok := c.Fissures[mirror]; ok {
			toDelete = append(toDelete, key, mirror)
		}
	}
	sort.Strings(toDelete)
	toDelete = dedupStrings(toDelete)

	if justChecking && len(toDelete) > 0 {
		return true
	}
	if !justChecking {
		for _, k := range toDelete {
			delete(c.Fissures, k)
		}
	}

	// 2. Restricted set: versions named by any remaining fissure, plus
	// every version not an ancestor of the acked boundary.
	restricted := map[string]bool{}
	for _, f := range c.Fissures {
		for v := range f.Versions {
			restricted[v] = true
		}
	}
	if len(c.AckedBoundary) == 0 {
		// No acked boundary yet: nothing is prunable (every version is
		// restricted). Matches spec.md's documented tie-break. This must
		// hold for the dry-run (justChecking) pass too, or WouldPrune
		// could report a bubble that Prune itself would never collapse.
		for v := range c.T {
			restricted[v] = true
		}
	} else {
		acked, err := c.Ancestors(c.AckedBoundary, true)
		if err == nil {
			for v := range c.T {
				if !acked[v] {
					restricted[v] = true
				}
			}
		}
	}

	// 3. Bubble discovery from the current frontier.
	children := childMap(c.T)
	parentSets, childSets := c.ParentAndChildSets(children)
	_ = childSets

	toBubble := map[string][2]string{}
	visited := map[string]bool{}

	frontier := make([]string, 0, len(c.CurrentVersion))
	for v := range c.CurrentVersion {
		frontier = append(frontier, v)
	}
	sort.Strings(frontier)

	for _, v := range frontier {
		if visited[v] {
			continue
		}
		visited[v] = true

		var bottom map[string]bool
		if ps, ok := parentSets[v]; ok && !ps.Done && len(ps.Members) > 0 {
			bottom = ps.Members
		} else {
			bottom = map[string]bool{v: true}
		}

		top := findOneBubble(c.T, children, bottom, restricted)
		if top == nil {
			continue
		}
		if justChecking {
			return true
		}

		bottomRep := firstSorted(bottom)
		topRep := firstSorted(top)
		if bottomRep == "" || topRep == "" || bottomRep == topRep {
			continue
		}
		toBubble[bottomRep] = [2]string{bottomRep, topRep}
	}

	if justChecking {
		return false
	}

	c.ApplyBubbles(toBubble, restricted)
	return len(toDelete) > 0 || len(toBubble) > 0
}

func dedupStrings(s []string) []string {
	out := s[:0]
	var last string
	first := true
	for _, v := range s {
		if first || v != last {
			out = append(out, v)
			last = v
			first = false
		}
	}
	return out
}

// firstSorted returns the lexicographically first key of m. spec.md §9's
// open question notes the original picks "first in iteration order", which
// is non-deterministic in a hash map; this implementation resolves that
// ambiguity deterministically by sorting, which preserves the prune
// algorithm's safety properties (any single consistent representative
// works) while making results reproducible across runs.
func firstSorted(m map[string]bool) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
