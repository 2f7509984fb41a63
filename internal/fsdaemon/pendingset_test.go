package fsdaemon

import (
	"testing"
	"time"
)

func TestPendingSetContainsUntilExpiry(t *testing.T) {
	clock := time.Unix(0, 0)
	p := newPendingSet(func() time.Time { return clock })

	p.Add("/a")
	if !p.Contains("/a") {
		t.Fatal("want contains immediately after Add")
	}

	clock = clock.Add(pendingWritesTTL + time.Millisecond)
	if p.Contains("/a") {
		t.Error("want not contains after TTL elapses")
	}
}

func TestPendingSetUnknownPathNotContained(t *testing.T) {
	p := newPendingSet(nil)
	if p.Contains("/never-added") {
		t.Error("want false for a path never added")
	}
}

func TestPendingSetReAddExtendsExpiry(t *testing.T) {
	clock := time.Unix(0, 0)
	p := newPendingSet(func() time.Time { return clock })

	p.Add("/a")
	clock = clock.Add(pendingWritesTTL - time.Millisecond)
	p.Add("/a")
	clock = clock.Add(2 * time.Millisecond)
	if !p.Contains("/a") {
		t.Error("want still contained after re-Add extended the deadline")
	}
}
