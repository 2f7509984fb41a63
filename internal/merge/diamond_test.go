package merge

import "testing"

func TestDiamondInsertAndDeleteConverge(t *testing.T) {
	writer := NewDiamond("peer-a")
	writer.Initialize("hello")

	insRes := writer.ApplyPatch(Patch{Range: "insert:5", Content: " world"})
	if !insRes.Success {
		t.Fatalf("insert ApplyPatch failed: %v", insRes.Err)
	}
	if writer.Content() != "hello world" {
		t.Fatalf("Content = %q, want %q", writer.Content(), "hello world")
	}

	delRes := writer.ApplyPatch(Patch{Range: "delete:5:11"})
	if !delRes.Success {
		t.Fatalf("delete ApplyPatch failed: %v", delRes.Err)
	}
	if writer.Content() != "hello" {
		t.Fatalf("Content after delete = %q, want %q", writer.Content(), "hello")
	}
}

func TestDiamondInsertAtOccupiedPositionGoesBeforeOlderSibling(t *testing.T) {
	d := NewDiamond("peer-a")
	d.Initialize("x")

	if res := d.ApplyPatch(Patch{Range: "insert:1", Content: "A"}); !res.Success {
		t.Fatalf("first insert: %v", res.Err)
	}
	if res := d.ApplyPatch(Patch{Range: "insert:1", Content: "B"}); !res.Success {
		t.Fatalf("second insert: %v", res.Err)
	}

	// Both characters share the origin "x"; the newer insert at the same
	// visible position lands before the older one, so position 1 means
	// position 1.
	if d.Content() != "xBA" {
		t.Errorf("Content = %q, want %q", d.Content(), "xBA")
	}
}

func TestDiamondSiblingOrderIsDeterministic(t *testing.T) {
	// Two same-origin siblings must end up in the same relative order on a
	// replica that sees them in either sequence; the tie-break depends only
	// on their identities, not on arrival order.
	d := NewDiamond("peer-a")
	d.Initialize("x")
	d.ApplyPatch(Patch{Range: "insert:1", Content: "A"})
	d.ApplyPatch(Patch{Range: "insert:1", Content: "B"})
	d.ApplyPatch(Patch{Range: "insert:1", Content: "C"})

	if d.Content() != "xCBA" {
		t.Errorf("Content = %q, want newest-first sibling order %q", d.Content(), "xCBA")
	}
}

func TestDiamondApplyPatchRejectsUnrecognizedRange(t *testing.T) {
	d := NewDiamond("peer-a")
	d.Initialize("")
	if res := d.ApplyPatch(Patch{Range: "nonsense"}); res.Success {
		t.Error("want failure for an unrecognized range kind")
	}
}

func TestDiamondDeleteNoOpWhenRangeEmpty(t *testing.T) {
	d := NewDiamond("peer-a")
	d.Initialize("hi")
	res := d.ApplyPatch(Patch{Range: "delete:0:0"})
	if !res.Success {
		t.Fatalf("ApplyPatch: %v", res.Err)
	}
	if d.Content() != "hi" {
		t.Errorf("Content = %q, want unchanged %q", d.Content(), "hi")
	}
}
