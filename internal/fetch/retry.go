package fetch

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy retries transient server errors with exponential backoff and no jitter.
// Attempt n (0-based) waits Initial × Multiplier^n before the next try.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Multiplier float64
	// Notify, when set, is called before each retry.
	Notify func(err error, wait time.Duration)
}

// DefaultRetryPolicy matches the board crawler's POST behaviour: two retries, ×1.5.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Initial: 1500 * time.Millisecond, Multiplier: 1.5}
}

// Do runs op until it succeeds, fails permanently, or the retry budget is spent.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.RetryNotify(attempt, p.backOff(ctx), p.Notify)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Millisecond
	}
	b.Multiplier = p.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
