package antimatter

// ParentAndChildSets builds the ParentSet/ChildSet index used by bubble
// discovery: for each version in the frontier, its immediate parent set
// (and whether that set has already been fully resolved by a previous
// bubble pass), and for each version, its immediate child set.
func (c *CRDT[T]) ParentAndChildSets(children map[string]map[string]bool) (map[string]ParentSet, map[string]ChildSet) {
	parentSets := make(map[string]ParentSet, len(c.CurrentVersion))
	for v := range c.CurrentVersion {
		members := map[string]bool{}
		for p := range c.T[v] {
			members[p] = true
		}
		parentSets[v] = ParentSet{Members: members, Done: false}
	}

	childSets := make(map[string]ChildSet, len(children))
	for v, ch := range children {
		members := map[string]bool{}
		for c := range ch {
			members[c] = true
		}
		childSets[v] = ChildSet{Members: members}
	}
	return parentSets, childSets
}

// ChildMap exposes childMap (version.go) for callers outside the package
// boundary of this file.
func (c *CRDT[T]) ChildMap() map[string]map[string]bool { return childMap(c.T) }

// findOneBubble looks for the point where every path started from bottom
// has merged back into a single vertex: the bubble's top.
//
// `frontier` is the current set of vertices that have been fully entered
// (every one of their parents, within the region reached from bottom, has
// already been entered) but not yet expanded. It starts as bottom itself
// and is peeled one vertex at a time: each popped vertex's children have
// their "still waiting on N parents" counter decremented, and a child joins
// the frontier once that counter reaches zero. Popping a vertex whose
// children never rejoin (because all its siblings already accounted for
// their shared child) shrinks the frontier without replacing it, and it is
// exactly this shrinkage — not a forward expansion — that signals
// convergence: whenever the frontier reaches size 1, that sole member is a
// candidate top. The walk keeps going (a larger bubble may subsume a
// smaller candidate), so the last candidate recorded before the frontier
// empties is the answer.
//
// If entering a vertex would mean entering one named in restricted (a live
// fissure, or not yet acked), the walk aborts immediately and returns
// whatever top was last recorded (possibly none), matching spec.md §4.3
// step 4's "abort and return the last valid top".
func findOneBubble(
	t map[string]map[string]bool,
	children map[string]map[string]bool,
	bottom map[string]bool,
	restricted map[string]bool,
) map[string]bool {
	remaining := make(map[string]int, len(t))
	for v, parents := range t {
		remaining[v] = len(parents)
	}

	frontier := map[string]bool{}
	queue := make([]string, 0, len(bottom))
	for v := range bottom {
		frontier[v] = true
		queue = append(queue, v)
	}

	var lastTop map[string]bool

	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		delete(frontier, v)

		for ch := range children[v] {
			remaining[ch]--
			if remaining[ch] == 0 {
				if restricted[ch] {
					return lastTop
				}
				frontier[ch] = true
				queue = append(queue, ch)
			}
		}

		if len(frontier) == 1 {
			top := map[string]bool{}
			for x := range frontier {
				top[x] = true
			}
			lastTop = top
		}
	}

	return lastTop
}

// bubbleRange returns every version absorbed by collapsing the region
// between bottomRep and topRep: everything reachable backward from topRep's
// parents, and backward from bottomRep's own (pre-collapse) parents, minus
// bottomRep itself. bottomRep is excluded so it survives as the bubble's new
// root. A version in restricted is never absorbed, and the walk does not
// continue past it — a live fissure or an unacked version pins everything
// behind it in place, even if that shrinks the bubble below what find one
// bubble proposed.
func bubbleRange(t map[string]map[string]bool, bottomRep, topRep string, restricted map[string]bool) map[string]bool {
	interior := map[string]bool{}
	var walk func(v string)
	walk = func(v string) {
		if v == bottomRep || interior[v] || restricted[v] {
			return
		}
		interior[v] = true
		for p := range t[v] {
			walk(p)
		}
	}
	for p := range t[topRep] {
		walk(p)
	}
	for p := range t[bottomRep] {
		walk(p)
	}
	return interior
}

// ApplyBubbles rewrites the DAG to collapse each discovered (bottomRep,
// topRep) bubble into a single edge, recording the collapsed interior
// versions in VersionGroups and notifying the inner CRDT so it can forget
// their metadata. bottomRep becomes a root (its own prior history, if fully
// absorbed, is cleared) so no surviving entry is left pointing at a deleted
// version.
func (c *CRDT[T]) ApplyBubbles(bubbles map[string][2]string, restricted map[string]bool) {
	seenBubbles := map[[2]string]bool{}
	for _, pair := range bubbles {
		seenBubbles[pair] = true
	}

	for pair := range seenBubbles {
		bottomRep, topRep := pair[0], pair[1]
		if bottomRep == "" || topRep == "" || bottomRep == topRep {
			continue // degenerate: single-vertex or no convergence found
		}

		interior := bubbleRange(c.T, bottomRep, topRep, restricted)

		// bottomRep's remaining parents are whatever wasn't absorbed
		// (stopped at a restricted vertex); anything absorbed must be
		// dropped from bottomRep's own parent set too, or it would dangle.
		survivingParents := map[string]bool{}
		for p := range c.T[bottomRep] {
			if !interior[p] {
				survivingParents[p] = true
			}
		}
		c.T[bottomRep] = survivingParents
		c.T[topRep] = map[string]bool{bottomRep: true}

		if len(interior) == 0 {
			continue
		}

		group := c.VersionGroups[bottomRep]
		for v := range interior {
			group = append(group, v)
			delete(c.T, v)
			delete(c.CurrentVersion, v)
			delete(c.AckedBoundary, v)
			c.Inner.Prune(v)
		}
		c.VersionGroups[bottomRep] = group
	}
}
