// Package asyncx provides small concurrency helpers used by the
// infrastructure layers: bounded retries with backoff and hard timeouts,
// all with first-class context support. Goroutines are never abandoned;
// every helper waits for the work it launched.
//
// The package has no external dependencies and relies solely on the Go
// standard library.
package asyncx

import (
	"context"
	"time"
)

// Retry calls fn up to attempts times, returning as soon as fn succeeds.
// Returns the last error if all attempts fail.
func Retry[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
		val  T
	)
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
	}
	return zero, err
}

// RetryWithBackoff calls fn up to attempts times with exponential backoff
// starting at initialDelay. The delay doubles after each failed attempt.
// Respects context cancellation between retries.
func RetryWithBackoff[T any](
	ctx context.Context,
	attempts int,
	initialDelay time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var (
		zero  T
		err   error
		val   T
		delay = initialDelay
	)
	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return zero, err
}

// WithTimeout runs fn with a deadline of d.
// Returns context.DeadlineExceeded if fn does not finish in time.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type res struct {
		v   T
		err error
	}

	ch := make(chan res, 1)
	go func() {
		v, err := fn(ctx)
		ch <- res{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
