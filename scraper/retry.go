package scraper

import (
	"context"
	"time"

	"github.com/aluiziolira/go-scrape-catalogue/config"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy decides how many times a fetch is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       SleepFunc
}

// NewRetryPolicy builds the exponential policy described by cfg.
func NewRetryPolicy(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     ExponentialBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax),
		Sleep:       sleepContext,
	}
}

// ExponentialBackoff returns base * 2^(attempt-1), capped at max when max
// is positive. With a 2s base, attempts 1..4 wait 2s, 4s, 8s and 16s.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			attempt = 1
		}
		if attempt > 30 {
			attempt = 30
		}
		delay := base * time.Duration(1<<(attempt-1))
		if max > 0 && delay > max {
			delay = max
		}
		return delay
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// wait sleeps for the backoff that follows a failed attempt.
func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(0, 0)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, backoff(attempt))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
