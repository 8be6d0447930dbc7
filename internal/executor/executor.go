// Package executor bounds the number of concurrent operations against the
// external store.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Executor admits at most Limit operations at once. Callers beyond the limit
// block until a slot frees or their context ends.
type Executor struct {
	sem     *semaphore.Weighted
	limit   int64
	timeout time.Duration

	running atomic.Int64
	peak    atomic.Int64
	total   atomic.Int64
}

// New creates an Executor. A non-positive limit is treated as 1.
// Each admitted operation runs under timeout; zero means no deadline.
func New(limit int, timeout time.Duration) *Executor {
	if limit < 1 {
		limit = 1
	}
	return &Executor{
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   int64(limit),
		timeout: timeout,
	}
}

// Limit returns the configured concurrency bound.
func (e *Executor) Limit() int { return int(e.limit) }

// InFlight returns how many operations are running right now.
func (e *Executor) InFlight() int { return int(e.running.Load()) }

// Peak returns the highest number of simultaneously running operations seen.
func (e *Executor) Peak() int { return int(e.peak.Load()) }

// Completed returns how many admitted operations have returned.
func (e *Executor) Completed() int64 { return e.total.Load() }

// Do runs op once a slot is available.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Submit runs op on e and returns its result.
func Submit[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("admission: %w", err)
	}
	defer e.sem.Release(1)

	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	opCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	v, err := op(opCtx)
	e.total.Add(1)
	if err != nil {
		slog.Debug("executor op failed", "elapsed", time.Since(start), "in_flight", n, "error", err)
		return zero, err
	}
	return v, nil
}
