package fsdaemon

import (
	"context"
	"errors"
	"time"

	"github.com/braidfs/braidfs/internal/braidclient"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// resyncThreshold mirrors leapmux's connectWithReconnect: a subscription
// that stays up at least this long resets the backoff curve, so a daemon
// that's been happily connected for hours doesn't inherit a stale, widened
// delay from an unrelated blip hours earlier.
const resyncThreshold = 30 * time.Second

func newReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// superviseSubscription keeps url's inbound subscription alive for the
// lifetime of ctx. syncInbound returns whenever its underlying Subscribe
// stream ends (heartbeat timeout, dropped connection, or braidclient's own
// per-fetch retry policy giving up); without a supervisor nothing would
// ever restart it. The reconnect cadence follows
// leapmux/internal/worker/hub.connectWithReconnect's shape: an
// exponential backoff that resets after a sufficiently long-lived
// connection, floored by the fixed per-URL formula
// internal/fsdaemon/ratelimit.Limiter implements (see below).
func (d *Daemon) superviseSubscription(ctx context.Context, url string) {
	bo := newReconnectBackoff()
	for {
		start := time.Now()
		err := d.syncInbound(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, braidclient.ErrAccessDenied) {
			// Credentials won't improve by retrying; the terminal error is
			// already persisted, stop supervising until a sync command
			// restarts this URL.
			return
		}

		if time.Since(start) >= resyncThreshold {
			bo.Reset()
		}

		// The per-URL rate limiter's turn (base_delay * min(failures+1, 10),
		// less time already elapsed) floors the reconnect wait, so a URL
		// that keeps failing can't be hammered even right after a backoff
		// reset; the exponential curve governs beyond that floor.
		interval := bo.NextBackOff()
		if turn := d.limiter.GetTurn(url); turn > interval {
			interval = turn
		}
		d.log.Info("fsdaemon: subscription ended, reconnecting",
			zap.String("url", url), zap.Duration("backoff", interval))

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
