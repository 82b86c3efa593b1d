// File: internal/usecase/retry.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"llm-finetune/internal/config"
	"llm-finetune/internal/domain"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy drives the job submission loop.
type RetryPolicy struct {
	// MaxAttempts bounds the total number of tries; 0 retries until success.
	MaxAttempts uint64
	Interval    time.Duration
	Backoff     string // constant | exponential
	MaxInterval time.Duration

	Sleep   SleepFunc
	OnRetry func(attempt uint64, delay time.Duration, err error)
}

// DefaultRetryPolicy waits a fixed minute between tries, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: config.DefaultRetryInterval, Backoff: "constant"}
}

// RetryPolicyFromConfig maps the yaml section onto a policy.
func RetryPolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = c.MaxAttempts
	if c.Interval > 0 {
		p.Interval = c.Interval
	}
	if c.Backoff != "" {
		p.Backoff = strings.ToLower(c.Backoff)
	}
	p.MaxInterval = c.MaxInterval
	return p
}

func (p RetryPolicy) backoff() (retry.Backoff, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = config.DefaultRetryInterval
	}
	var b retry.Backoff
	switch p.Backoff {
	case "", "constant":
		b = retry.NewConstant(interval)
	case "exponential":
		b = retry.NewExponential(interval)
	default:
		return nil, fmt.Errorf("%w: unknown backoff %q", domain.ErrInvalidArgument, p.Backoff)
	}
	if p.MaxInterval > 0 {
		b = retry.WithCappedDuration(p.MaxInterval, b)
	}
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts-1, b)
	}
	return b, nil
}

// Do calls fn until it succeeds, fails with an error retryable rejects, or
// the backoff is spent. Spent backoffs return domain.ErrRetriesExhausted
// wrapping the last error.
func (p RetryPolicy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	b, err := p.backoff()
	if err != nil {
		return err
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	for attempt := uint64(1); ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		delay, stop := b.Next()
		if stop {
			return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
