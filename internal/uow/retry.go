package uow

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"libranexus/internal/domain"
)

// Retry runs fn up to attempts times while it fails with
// domain.ErrConcurrencyConflict, waiting with jittered exponential backoff in
// between. Any other error is returned immediately.
func Retry[T any](ctx context.Context, attempts int, fn func(ctx context.Context) (T, error), opts ...backoff.RetryOption) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	opts = append([]backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	}, opts...)

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !errors.Is(err, domain.ErrConcurrencyConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
