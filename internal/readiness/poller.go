// Package readiness implements the bounded fixed-interval poll used before
// any step that depends on an external service being able to accept work.
package readiness

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of a poll run.
type Result int

const (
	// TimedOut means the attempt budget was exhausted without a healthy check.
	TimedOut Result = iota
	// Ready means at least one check reported healthy.
	Ready
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "timed out"
}

// CheckFunc reports whether the dependency is healthy. A nil return means
// healthy; any error counts as one failed attempt. Checks must be read-only
// and safe to call repeatedly.
type CheckFunc func(ctx context.Context) error

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case. Injected by tests to avoid real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller retries a CheckFunc up to Attempts times with a fixed Interval
// between attempts. There is no backoff and no partial credit: the caller
// must treat TimedOut as fatal for the current run.
type Poller struct {
	Attempts int
	Interval time.Duration

	// OnAttempt, when set, is called after each failed attempt with the
	// attempt number (1-based), the attempt budget, and the check error.
	OnAttempt func(attempt, max int, err error)

	// Sleep overrides the inter-attempt delay. Nil means a real timer.
	Sleep SleepFunc
}

// Wait polls check until it succeeds or the attempt budget is exhausted.
// An Attempts value of zero (or less) times out immediately without
// invoking the check. A check error never aborts the loop early; it is
// recorded and the next attempt proceeds after the interval.
func (p Poller) Wait(ctx context.Context, check CheckFunc) (Result, error) {
	if check == nil {
		return TimedOut, fmt.Errorf("readiness: nil check")
	}
	if p.Attempts <= 0 {
		return TimedOut, fmt.Errorf("readiness: not ready after 0 attempts")
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return TimedOut, fmt.Errorf("readiness: canceled on attempt %d/%d: %w", attempt, p.Attempts, err)
		}
		lastErr = check(ctx)
		if lastErr == nil {
			return Ready, nil
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, p.Attempts, lastErr)
		}
		if attempt == p.Attempts {
			break
		}
		if err := sleep(ctx, p.Interval); err != nil {
			return TimedOut, fmt.Errorf("readiness: canceled waiting for attempt %d/%d: %w", attempt+1, p.Attempts, err)
		}
	}
	return TimedOut, fmt.Errorf("readiness: not ready after %d attempts: %w", p.Attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
