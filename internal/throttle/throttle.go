// Package throttle coalesces bursts of profile refresh requests.
package throttle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Decision reports what Request did with a call.
type Decision int

const (
	// Executed means the refresh started immediately.
	Executed Decision = iota
	// Deferred means a single refresh was scheduled for the end of the cooldown.
	Deferred
	// Coalesced means a deferred refresh was already scheduled.
	Coalesced
	// Skipped means a refresh was in flight or the throttle is closed.
	Skipped
)

func (d Decision) String() string {
	switch d {
	case Executed:
		return "executed"
	case Deferred:
		return "deferred"
	case Coalesced:
		return "coalesced"
	default:
		return "skipped"
	}
}

// Throttle runs fn at most once per cooldown window.
type Throttle struct {
	fn       func(ctx context.Context) error
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	last     time.Time
	inFlight bool
	pending  *time.Timer
	closed   bool

	wg   sync.WaitGroup
	runs atomic.Int64
}

// New creates a Throttle around fn.
func New(cooldown time.Duration, fn func(ctx context.Context) error) *Throttle {
	return &Throttle{fn: fn, cooldown: cooldown, now: time.Now}
}

// Request asks for a refresh. It never blocks on fn.
func (t *Throttle) Request(ctx context.Context) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.closed, t.inFlight:
		return Skipped
	case t.pending != nil:
		return Coalesced
	}

	elapsed := t.now().Sub(t.last)
	if t.last.IsZero() || elapsed >= t.cooldown {
		t.startLocked(ctx)
		return Executed
	}

	bg := context.WithoutCancel(ctx)
	t.pending = time.AfterFunc(t.cooldown-elapsed, func() { t.fireDeferred(bg) })
	return Deferred
}

// Runs returns how many times fn has been started.
func (t *Throttle) Runs() int { return int(t.runs.Load()) }

// Wait blocks until every started refresh has returned.
func (t *Throttle) Wait() { t.wg.Wait() }

// Close cancels a pending deferred refresh and rejects further requests.
// In-flight refreshes are not interrupted.
func (t *Throttle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Throttle) fireDeferred(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
	if t.closed || t.inFlight {
		return
	}
	t.startLocked(ctx)
}

func (t *Throttle) startLocked(ctx context.Context) {
	t.inFlight = true
	t.last = t.now()
	t.runs.Add(1)
	t.wg.Add(1)

	bg := context.WithoutCancel(ctx)
	go func() {
		defer t.wg.Done()
		if err := t.fn(bg); err != nil {
			slog.Error("profile refresh failed", "error", err)
		}
		t.mu.Lock()
		t.inFlight = false
		t.mu.Unlock()
	}()
}
