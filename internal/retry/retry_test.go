package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/trainer/internal/executor"
)

func TestDelay(t *testing.T) {
	p := Default()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
		{-1, 1 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	want := []bool{true, true, false, false}
	for attempt, w := range want {
		if got := p.ShouldRetry(attempt); got != w {
			t.Errorf("ShouldRetry(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	p := Policy{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 3}
	attempts, err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("expected 2 attempts, got attempts=%d calls=%d", attempts, calls)
	}
}

func TestDo_Exhaustion(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Policy{
		Base:        time.Millisecond,
		Cap:         3 * time.Millisecond,
		MaxAttempts: 4,
		OnRetry: func(_ int, d time.Duration, _ error) {
			delays = append(delays, d)
		},
	}
	down := errors.New("down")
	attempts, err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return down
	})
	if !errors.Is(err, down) {
		t.Fatalf("expected last error, got %v", err)
	}
	if attempts != 4 || calls != 4 {
		t.Fatalf("expected exactly 4 tries, got attempts=%d calls=%d", attempts, calls)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
		if i > 0 && delays[i] < delays[i-1] {
			t.Errorf("delays decreased: %v", delays)
		}
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	p := Policy{Base: time.Hour, Cap: time.Hour, MaxAttempts: 3}
	_, err := Do(ctx, p, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_CanceledNotRetried(t *testing.T) {
	calls := 0
	p := Policy{Base: time.Millisecond, MaxAttempts: 3}
	_, err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", calls)
	}
}

func TestDo_OpTimeoutRetriedCallerDeadlineNot(t *testing.T) {
	exec := executor.New(1, 5*time.Millisecond)
	p := Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3}

	calls := 0
	attempts, err := Do(context.Background(), p, func(ctx context.Context) error {
		return exec.Do(ctx, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				<-ctx.Done()
				return ctx.Err()
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("expected success after op timeouts, got %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got attempts=%d calls=%d", attempts, calls)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	calls = 0
	p.MaxAttempts = 5
	_, err = Do(ctx, p, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("caller deadline must not be retried, got %d calls", calls)
	}
}
