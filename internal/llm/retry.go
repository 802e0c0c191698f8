package llm

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy bounds retries of transient provider failures with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	// Sleep waits between attempts. Nil uses a context-aware timer; tests
	// replace it to run without real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2}
}

// Delay returns the wait before attempt n+1 after n failed attempts.
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. Only *GenerationError values marked Retryable are
// retried. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var err error
	for n := 1; ; n++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var ge *GenerationError
		if !errors.As(err, &ge) || !ge.Retryable || n >= attempts {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if serr := sleep(ctx, p.Delay(n)); serr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
