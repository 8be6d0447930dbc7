// Package retry implements the capped exponential backoff used for question
// loading.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns base=1s, cap=5s, three attempts.
func Default() Policy {
	return Policy{Base: time.Second, Cap: 5 * time.Second, MaxAttempts: 3}
}

// ShouldRetry reports whether another attempt follows the failed attempt with
// zero-based index attempt.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt+1 < p.MaxAttempts
}

// Delay returns min(Base * 2^attempt, Cap).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.Base
	for range attempt {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Do calls fn until it succeeds, the attempts run out, or ctx is done.
// It returns the number of attempts made along with the last error.
// Cancellation stops the loop; a per-attempt deadline error from fn is retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return attempt + 1, err
		}
		if attempt+1 >= attempts {
			return attempt + 1, err
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		} else {
			slog.Warn("retrying after failure", "attempt", attempt+1, "delay", wait, "error", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, lastErr
}
