package safego

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not finish within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go("test", func() { close(done) })
	waitFor(t, done)
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("panicky", func() {
		defer close(done)
		panic("intentional panic in test")
	})
	waitFor(t, done)
}

func TestEvery_StopsWhenTickReturnsFalse(t *testing.T) {
	var ticks atomic.Int32
	done := make(chan struct{})
	Every(context.Background(), "counter", time.Millisecond, func() bool {
		if ticks.Add(1) == 3 {
			close(done)
			return false
		}
		return true
	})
	waitFor(t, done)

	time.Sleep(10 * time.Millisecond)
	if got := ticks.Load(); got != 3 {
		t.Errorf("ticks = %d, want 3", got)
	}
}

func TestEvery_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	Every(ctx, "cancelled", time.Millisecond, func() bool {
		ticks.Add(1)
		return true
	})
	time.Sleep(5 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	seen := ticks.Load()
	time.Sleep(10 * time.Millisecond)
	if got := ticks.Load(); got != seen {
		t.Errorf("ticks kept running after cancel: %d -> %d", seen, got)
	}
}
