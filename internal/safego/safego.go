// Package safego runs the server's background loops (rate limiter sweeps, pool
// statistics, the metrics listener) so that a panic in one of them is logged
// instead of taking the process down.
package safego

import (
	"context"
	"log/slog"
	"time"
)

// Go launches fn in a new goroutine and recovers any panic it raises
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

// Every calls tick once per interval until ctx is done or tick returns false.
// A panicking tick ends the loop.
func Every(ctx context.Context, name string, interval time.Duration, tick func() bool) {
	Go(name, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !tick() {
					return
				}
			}
		}
	})
}
