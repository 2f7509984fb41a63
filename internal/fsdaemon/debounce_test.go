package fsdaemon

import (
	"testing"
	"time"
)

func TestDebouncerFirstEventDueAfterFastWindow(t *testing.T) {
	clock := time.Unix(0, 0)
	d := newDebouncer(func() time.Time { return clock })

	// A lone save with a large configured debounce still syncs after the
	// fast first-event window, not the configured one.
	d.Push("https://a", "/path/a", 500*time.Millisecond)

	clock = clock.Add(firstEventDelay - time.Millisecond)
	if due := d.reapDue(); len(due) != 0 {
		t.Fatalf("due = %v, want empty before the first-event window elapses", due)
	}

	clock = clock.Add(2 * time.Millisecond)
	due := d.reapDue()
	if len(due) != 1 || due["https://a"] != "/path/a" {
		t.Fatalf("due = %v, want only https://a", due)
	}
}

func TestDebouncerSubsequentEventUsesConfiguredDelay(t *testing.T) {
	clock := time.Unix(0, 0)
	d := newDebouncer(func() time.Time { return clock })

	d.Push("https://a", "/first", 100*time.Millisecond)
	clock = clock.Add(5 * time.Millisecond)
	// Still pending, so this push gets the full configured window and the
	// latest path wins.
	d.Push("https://a", "/second", 100*time.Millisecond)

	clock = clock.Add(10 * time.Millisecond)
	if due := d.reapDue(); len(due) != 0 {
		t.Fatalf("due = %v, want empty: second push should hold the full debounce window", due)
	}

	clock = clock.Add(95 * time.Millisecond)
	due := d.reapDue()
	if len(due) != 1 || due["https://a"] != "/second" {
		t.Fatalf("due = %v, want only https://a -> /second", due)
	}
}

func TestDebouncerReapedURLStartsFreshBurst(t *testing.T) {
	clock := time.Unix(0, 0)
	d := newDebouncer(func() time.Time { return clock })

	d.Push("https://a", "/path/a", 100*time.Millisecond)
	clock = clock.Add(firstEventDelay)
	if due := d.reapDue(); len(due) != 1 {
		t.Fatalf("due = %v, want the first burst reaped", due)
	}

	// Nothing pending any more, so the next event is a first event again.
	d.Push("https://a", "/path/a", 100*time.Millisecond)
	clock = clock.Add(firstEventDelay)
	due := d.reapDue()
	if len(due) != 1 || due["https://a"] != "/path/a" {
		t.Fatalf("due = %v, want a fresh first-event deadline after reap", due)
	}
}

func TestDebouncerRunInvokesSyncForDueEntries(t *testing.T) {
	d := newDebouncer(nil)
	d.Push("https://a", "/path/a", time.Millisecond)

	synced := make(chan string, 1)
	stop := make(chan struct{})
	go d.run(stop, func(url, path string) { synced <- url })

	select {
	case url := <-synced:
		if url != "https://a" {
			t.Errorf("synced url = %q, want https://a", url)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced sync")
	}
	close(stop)
}
