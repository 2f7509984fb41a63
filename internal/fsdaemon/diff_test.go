package fsdaemon

import "testing"

func TestComputePatchesNoChange(t *testing.T) {
	if p := computePatches("same", "same"); p != nil {
		t.Errorf("patches = %v, want nil", p)
	}
}

func TestComputePatchesPureInsert(t *testing.T) {
	patches := computePatches("hello", "hello world")
	if len(patches) != 1 {
		t.Fatalf("patches = %+v, want 1", patches)
	}
	if patches[0].Range != "[5:5]" || string(patches[0].Content) != " world" {
		t.Errorf("patch = %+v", patches[0])
	}
}

func TestComputePatchesPureDelete(t *testing.T) {
	patches := computePatches("hello world", "hello")
	if len(patches) != 1 {
		t.Fatalf("patches = %+v, want 1", patches)
	}
	if patches[0].Range != "[5:11]" || len(patches[0].Content) != 0 {
		t.Errorf("patch = %+v", patches[0])
	}
}

func TestComputePatchesReplacement(t *testing.T) {
	patches := computePatches("hello world", "hello there")
	if len(patches) != 2 {
		t.Fatalf("patches = %+v, want 2", patches)
	}
	if patches[0].Range != "[6:11]" {
		t.Errorf("delete range = %q", patches[0].Range)
	}
	if patches[1].Range != "[6:6]" || string(patches[1].Content) != "there" {
		t.Errorf("insert patch = %+v", patches[1])
	}
}

func TestComputePatchesMultibyteRunes(t *testing.T) {
	patches := computePatches("héllo", "héllo!")
	if len(patches) != 1 {
		t.Fatalf("patches = %+v", patches)
	}
	if patches[0].Range != "[5:5]" || string(patches[0].Content) != "!" {
		t.Errorf("patch = %+v", patches[0])
	}
}

func TestComputePatchesEntirelyDifferent(t *testing.T) {
	patches := computePatches("abc", "xyz")
	if len(patches) != 2 {
		t.Fatalf("patches = %+v, want 2", patches)
	}
	if patches[0].Range != "[0:3]" {
		t.Errorf("delete range = %q", patches[0].Range)
	}
	if patches[1].Range != "[0:0]" || string(patches[1].Content) != "xyz" {
		t.Errorf("insert patch = %+v", patches[1])
	}
}
