package antimatter

import "testing"

func sset(vs ...string) map[string]bool {
	m := map[string]bool{}
	for _, v := range vs {
		m[v] = true
	}
	return m
}

// TestPruneBubbleCollapse covers S4: a -> b -> {c,d} -> e, acked_boundary =
// {e}, no fissures. Pruning should collapse b,c,d into a's version group
// and leave t reduced to {a:{}, e:{a}}, current_version = {e}.
func TestPruneBubbleCollapse(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddVersion("a", sset())
	crdt.AddVersion("b", sset("a"))
	crdt.AddVersion("c", sset("b"))
	crdt.AddVersion("d", sset("b"))
	crdt.AddVersion("e", sset("c", "d"))

	crdt.AckedBoundary = sset("e")

	changed := crdt.Prune()
	if !changed {
		t.Fatal("expected Prune to report a change")
	}

	if !crdt.CurrentVersion["e"] || len(crdt.CurrentVersion) != 1 {
		t.Errorf("current_version = %v, want {e}", crdt.CurrentVersion)
	}

	// The bubble {a,b,c,d} collapses to a single surviving representative;
	// spec.md's tie-break is left open ("or equivalent representative
	// choice"), so assert the shape rather than a specific survivor name.
	if len(crdt.T) != 2 {
		t.Fatalf("t = %v, want exactly 2 surviving versions (rep + e)", crdt.T)
	}
	eParents, ok := crdt.T["e"]
	if !ok || len(eParents) != 1 {
		t.Fatalf("t[e] = %v, want a single parent", eParents)
	}
	var rep string
	for p := range eParents {
		rep = p
	}
	if rep == "e" {
		t.Fatalf("e cannot be its own parent")
	}
	if repParents, ok := crdt.T[rep]; !ok || len(repParents) != 0 {
		t.Errorf("t[%s] = %v, want {} (collapsed bubble root)", rep, repParents)
	}

	group := crdt.VersionGroups[rep]
	if len(group) != 3 {
		t.Errorf("version_groups[%s] = %v, want 3 collapsed members", rep, group)
	}
	absorbed := map[string]bool{rep: true}
	for _, v := range group {
		absorbed[v] = true
	}
	for _, v := range []string{"a", "b", "c", "d"} {
		if !absorbed[v] {
			t.Errorf("expected %s to be the representative or absorbed into its group, got %v / %v", v, rep, group)
		}
	}
}

func TestPruneNoAckedBoundaryPrunesNothing(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddVersion("a", sset())
	crdt.AddVersion("b", sset("a"))

	changed := crdt.Prune()
	if changed {
		t.Error("expected no pruning without an acked boundary")
	}
	if _, ok := crdt.T["b"]; !ok {
		t.Error("b should still be present: nothing is prunable yet")
	}
}

func TestPruneFissureMatching(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddFissure(Fissure{A: "p1", B: "p2", Conn: "c1", Versions: sset("v1")})
	crdt.AddFissure(Fissure{A: "p2", B: "p1", Conn: "c1", Versions: sset("v1")})

	if !crdt.WouldPrune() {
		t.Fatal("matched fissure pair should be reported as prunable")
	}

	crdt.Prune()
	if len(crdt.Fissures) != 0 {
		t.Errorf("expected matched fissures to be removed, got %v", crdt.Fissures)
	}
}

func TestAncestorsDFS(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddVersion("a", sset())
	crdt.AddVersion("b", sset("a"))
	crdt.AddVersion("c", sset("b"))

	anc, err := crdt.Ancestors(sset("c"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range []string{"a", "b", "c"} {
		if !anc[v] {
			t.Errorf("expected %s in ancestors, got %v", v, anc)
		}
	}
}

func TestAncestorsMissingVersionErrors(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.T["orphan"] = sset("ghost")

	if _, err := crdt.Ancestors(sset("orphan"), false); err == nil {
		t.Error("expected error for missing parent version")
	}
}

// TestAckmeRoundPromotesBoundaryThenPrune exercises the full runtime path
// SPEC_FULL.md promises end-to-end: an ackme round, driven entirely through
// HandleMessage (the peer message switch), proposes a's->e's frontier as
// the candidate acked boundary, two peer connections ack it, and only once
// both have acked does AckedBoundary advance far enough for Prune to
// collapse the same a->b->{c,d}->e bubble TestPruneBubbleCollapse exercises
// directly.
func TestAckmeRoundPromotesBoundaryThenPrune(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddVersion("a", sset())
	crdt.AddVersion("b", sset("a"))
	crdt.AddVersion("c", sset("b"))
	crdt.AddVersion("d", sset("b"))
	crdt.AddVersion("e", sset("c", "d"))

	boundary := sset("e")
	crdt.HandleMessage(Message{Type: MessageAckme, Versions: boundary, Count: 2}, 1)

	if len(crdt.AckedBoundary) != 0 {
		t.Fatalf("boundary promoted before any peer acked: %v", crdt.AckedBoundary)
	}
	if crdt.Prune() {
		t.Fatal("expected no prune to be possible before the round closes")
	}

	crdt.HandleMessage(Message{Type: MessageAck, Conn: "peer1", Seen: AckGlobal, Versions: boundary}, 2)
	if len(crdt.AckedBoundary) != 0 {
		t.Fatalf("boundary promoted after only one of two peers acked: %v", crdt.AckedBoundary)
	}

	crdt.HandleMessage(Message{Type: MessageAck, Conn: "peer2", Seen: AckGlobal, Versions: boundary}, 3)
	if !crdt.AckedBoundary["e"] || len(crdt.AckedBoundary) != 1 {
		t.Fatalf("expected acked_boundary = {e} once both peers acked, got %v", crdt.AckedBoundary)
	}

	if !crdt.Prune() {
		t.Fatal("expected prune to collapse the bubble once the boundary promoted")
	}
	if !crdt.CurrentVersion["e"] || len(crdt.CurrentVersion) != 1 {
		t.Errorf("current_version = %v, want {e}", crdt.CurrentVersion)
	}
}

// TestAckmeRoundZeroPeersPromotesImmediately covers the vacuous case: a
// round proposed with no live subscribers to wait on is "received by every
// live peer" trivially, so it promotes without any Ack.
func TestAckmeRoundZeroPeersPromotesImmediately(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.AddVersion("a", sset())

	crdt.HandleMessage(Message{Type: MessageAckme, Versions: sset("a"), Count: 0}, 1)

	if !crdt.AckedBoundary["a"] || len(crdt.AckedBoundary) != 1 {
		t.Fatalf("expected immediate promotion with zero peers, got %v", crdt.AckedBoundary)
	}
}

func TestFrontierAddMonotonicity(t *testing.T) {
	crdt := New("doc", &mockCrdt{})
	crdt.CurrentVersion = sset("p1", "p2")

	crdt.FrontierAdd("v", sset("p1", "p2"))

	if len(crdt.CurrentVersion) != 1 || !crdt.CurrentVersion["v"] {
		t.Errorf("current_version = %v, want {v}", crdt.CurrentVersion)
	}
}
