package camera

import (
	"context"
	"time"
)

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
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

// Retry calls fn up to attempts times, pausing spacing between failures.
// It returns the first success, the last error, or ctx's error if the
// context is cancelled while waiting.
func Retry[T any](ctx context.Context, attempts int, spacing time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero T
		err  error
	)
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, spacing); serr != nil {
				return zero, serr
			}
		}
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
	}
	return zero, err
}
