package fsdaemon

import (
	"context"
	"testing"
	"time"
)

func TestNewReconnectBackoffConfiguredIntervals(t *testing.T) {
	b := newReconnectBackoff()
	if b.InitialInterval != 1*time.Second {
		t.Errorf("InitialInterval = %v, want 1s", b.InitialInterval)
	}
	if b.MaxInterval != 30*time.Second {
		t.Errorf("MaxInterval = %v, want 30s", b.MaxInterval)
	}
	if b.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", b.Multiplier)
	}

	first := b.NextBackOff()
	if first <= 0 {
		t.Fatal("want a positive first backoff interval")
	}
}

func TestSuperviseSubscriptionStopsWhenContextCancelled(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.superviseSubscription(ctx, "https://example.com/missing.txt")
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("superviseSubscription did not return after context cancellation")
	}
}
