package crawler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common"
)

// BackoffFunc returns the delay before the given attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// FixedBackoff returns the same delay for every attempt.
func FixedBackoff(delay time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return delay
	}
}

// ExponentialBackoff doubles the base delay per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}

// RetryPolicy bounds how long an operation keeps being retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
}

// DefaultRetryPolicy matches the crawl-side fetch budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     FixedBackoff(2 * time.Second),
	}
}

// Next reports whether another attempt is allowed after the given number of
// completed attempts, and the delay to wait before it.
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	if p.Backoff == nil {
		return 0, true
	}
	return p.Backoff(attempt), true
}

// Do runs op, retrying retriable failures per the policy. Non-retriable
// errors and context cancellation end the loop immediately.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !common.IsRetriable(err) {
			return err
		}

		delay, ok := p.Next(attempt)
		if !ok {
			return err
		}

		log.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
