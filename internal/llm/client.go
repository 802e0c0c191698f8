package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Observer receives one call per provider attempt.
type Observer interface {
	ObserveRequest(provider, outcome string, elapsed time.Duration)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Name string // provider name used in errors, logs and metrics
	// RequestsPerMinute caps the attempt rate. Zero disables the limit.
	RequestsPerMinute int
	// Timeout bounds each individual attempt. Zero means no per-attempt limit.
	Timeout  time.Duration
	Retry    RetryPolicy
	Observer Observer
	Log      *zap.SugaredLogger
}

// Client wraps a Provider with rate limiting, per-attempt timeouts and
// bounded retry. Client itself satisfies Provider and is safe for
// concurrent use.
type Client struct {
	provider Provider
	opts     ClientOptions
	limiter  *rate.Limiter
}

// NewClient wraps p.
func NewClient(p Provider, opts ClientOptions) *Client {
	if opts.Name == "" {
		opts.Name = "llm"
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	c := &Client{provider: p, opts: opts}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), 1)
	}
	return c
}

// Complete implements Provider. Failures are returned as *GenerationError.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	var out string
	attempt := 0
	err := c.opts.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &GenerationError{Provider: c.opts.Name, Err: err}
			}
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if c.opts.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		}
		defer cancel()

		start := time.Now()
		resp, err := c.provider.Complete(actx, systemPrompt, userPrompt, maxTokens, temperature)
		elapsed := time.Since(start)
		if err == nil {
			c.observe("ok", elapsed)
			out = resp
			return nil
		}
		ge := classify(c.opts.Name, err)
		if ctx.Err() != nil {
			// The caller gave up; a per-attempt deadline alone is retryable.
			ge.Retryable = false
		} else if errors.Is(err, context.DeadlineExceeded) {
			ge.Retryable = true
		}
		c.observe(outcome(ge), elapsed)
		c.opts.Log.Debugw("llm attempt failed",
			"provider", c.opts.Name, "attempt", attempt, "status", ge.StatusCode,
			"retryable", ge.Retryable, "error", err)
		return ge
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *Client) observe(result string, d time.Duration) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveRequest(c.opts.Name, result, d)
	}
}

func outcome(ge *GenerationError) string {
	if ge.Retryable {
		return "retryable_error"
	}
	return "error"
}
