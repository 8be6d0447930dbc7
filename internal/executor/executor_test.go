package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitReturnsResult(t *testing.T) {
	e := New(2, 0)
	got, err := Submit(context.Background(), e, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	if e.Completed() != 1 {
		t.Errorf("Completed() = %d, want 1", e.Completed())
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	e := New(2, 0)
	boom := errors.New("boom")
	err := e.Do(context.Background(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if e.InFlight() != 0 {
		t.Errorf("InFlight() = %d after return, want 0", e.InFlight())
	}
}

func TestBoundUnderLoad(t *testing.T) {
	const k, n = 2, 12
	e := New(k, 0)

	var running, maxSeen, done atomic.Int64
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.Do(context.Background(), func(context.Context) error {
				cur := running.Add(1)
				for {
					m := maxSeen.Load()
					if cur <= m || maxSeen.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				done.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen.Load() > k {
		t.Fatalf("observed %d concurrent ops, limit %d", maxSeen.Load(), k)
	}
	if e.Peak() > k {
		t.Fatalf("Peak() = %d, limit %d", e.Peak(), k)
	}
	if done.Load() != n {
		t.Fatalf("expected %d completions, got %d", n, done.Load())
	}
}

func TestOpTimeout(t *testing.T) {
	e := New(1, 10*time.Millisecond)
	err := e.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The slot is released after the deadline.
	if err := e.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("second Do: %v", err)
	}
}

func TestAdmissionHonoursContext(t *testing.T) {
	e := New(1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := e.Do(ctx, func(context.Context) error {
		t.Error("op ran while slot was held")
		return nil
	})
	close(release)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected admission deadline, got %v", err)
	}
}

func TestNewClampsLimit(t *testing.T) {
	if got := New(0, 0).Limit(); got != 1 {
		t.Errorf("Limit() = %d, want 1", got)
	}
}
