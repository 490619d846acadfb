package client

import (
	"context"
	"time"
)

// heartbeatLoop posts a heartbeat every interval until ctx is
// cancelled. Grounded on Design Notes §9's "adopt a cancellation
// token rather than relying on task-drop semantics": the caller owns
// an explicit context.CancelFunc and calls it the moment the
// contributor enters verification, rather than letting the goroutine
// leak until the process exits.
//
// Heartbeat failures are logged but non-fatal (spec.md §4.8) — a
// transient network blip must not abort an in-flight contribution.
func (r *Runner) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.transport.heartbeat(r.pubkey); err != nil {
				r.log.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

// startHeartbeat launches the background heartbeat goroutine and
// returns the cancellation function the caller must invoke once the
// contributor stops needing to prove liveness (entering verification,
// or terminating).
func (r *Runner) startHeartbeat() context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go r.heartbeatLoop(ctx, r.updateInterval)
	return cancel
}
