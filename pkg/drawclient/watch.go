package drawclient

import (
	"context"
	"time"
)

// WatchLocks polls Diagnostics until ctx is cancelled.
// It returns a channel of snapshots and closes it on exit.
// Semantics:
// - HoldWarn > 0: only snapshots with some lock held at least HoldWarn are sent
// - poll errors are skipped; the next tick tries again
// - a slow reader misses snapshots rather than stalling the poller
func (c *Client) WatchLocks(ctx context.Context, opt WatchOptions) <-chan Diagnostics {
	out := make(chan Diagnostics, 1)

	if opt.Interval <= 0 {
		opt.Interval = time.Second
	}

	go func() {
		defer close(out)

		t := time.NewTicker(opt.Interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				d, err := c.Diagnostics(ctx)
				if err != nil {
					continue
				}
				if opt.HoldWarn > 0 && !hasLongHold(d, opt.HoldWarn) {
					continue
				}
				select {
				case out <- d:
				default:
				}
			}
		}
	}()

	return out
}

func hasLongHold(d Diagnostics, threshold time.Duration) bool {
	for _, l := range d.Locks {
		if l.Held && l.HeldFor >= threshold {
			return true
		}
	}
	return false
}
