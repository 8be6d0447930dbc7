package throttle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFirstRequestExecutes(t *testing.T) {
	var calls atomic.Int64
	th := New(time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer th.Close()

	if d := th.Request(context.Background()); d != Executed {
		t.Fatalf("first Request = %v, want executed", d)
	}
	th.Wait()
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestBurstCoalesces(t *testing.T) {
	var calls atomic.Int64
	th := New(100*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer th.Close()

	const m = 50
	counts := map[Decision]int{}
	for range m {
		counts[th.Request(context.Background())]++
	}
	if counts[Executed] != 1 {
		t.Fatalf("expected exactly 1 immediate execution, got %v", counts)
	}
	if counts[Deferred] > 1 {
		t.Fatalf("expected at most 1 deferred execution, got %v", counts)
	}

	time.Sleep(200 * time.Millisecond)
	th.Wait()
	if got := calls.Load(); got < 1 || got > 2 {
		t.Fatalf("expected 1 or 2 executions for %d requests, got %d", m, got)
	}
	if th.Runs() != int(calls.Load()) {
		t.Errorf("Runs() = %d, calls = %d", th.Runs(), calls.Load())
	}
}

func TestDeferredRunsAfterCooldown(t *testing.T) {
	var calls atomic.Int64
	th := New(20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	defer th.Close()

	th.Request(context.Background())
	th.Wait()

	if d := th.Request(context.Background()); d != Deferred {
		t.Fatalf("second Request = %v, want deferred", d)
	}
	if d := th.Request(context.Background()); d != Coalesced {
		t.Fatalf("third Request = %v, want coalesced", d)
	}

	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	th.Wait()
	if calls.Load() != 2 {
		t.Fatalf("expected 2 executions, got %d", calls.Load())
	}
}

func TestInFlightSkips(t *testing.T) {
	release := make(chan struct{})
	th := New(0, func(context.Context) error {
		<-release
		return errors.New("profile service down")
	})
	defer th.Close()

	if d := th.Request(context.Background()); d != Executed {
		t.Fatalf("first Request = %v, want executed", d)
	}
	if d := th.Request(context.Background()); d != Skipped {
		t.Fatalf("Request while in flight = %v, want skipped", d)
	}
	close(release)
	th.Wait()
	if th.Runs() != 1 {
		t.Fatalf("Runs() = %d, want 1", th.Runs())
	}
}

func TestCloseCancelsPending(t *testing.T) {
	var calls atomic.Int64
	th := New(20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	th.Request(context.Background())
	th.Wait()
	if d := th.Request(context.Background()); d != Deferred {
		t.Fatalf("Request = %v, want deferred", d)
	}
	th.Close()

	time.Sleep(40 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected pending refresh to be cancelled, got %d calls", calls.Load())
	}
	if d := th.Request(context.Background()); d != Skipped {
		t.Fatalf("Request after Close = %v, want skipped", d)
	}
}
