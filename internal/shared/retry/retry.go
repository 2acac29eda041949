package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"youposm/internal/shared/storeerr"
)

// Policy bounds how often and how patiently a store call is retried.
type Policy struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy returns a policy with the given attempt count and default intervals.
func DefaultPolicy(attempts int) Policy {
	return Policy{
		Attempts:        attempts,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. onRetry, when set, is called before each
// retry with the attempt number that failed.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0

	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !storeerr.Retryable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, _ time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err)
		}
	})
}
