// Package poll provides a bounded poll-until-condition helper.
// It knows nothing about HTTP or the probed service: callers supply a
// predicate and get back how much of the attempt budget was spent.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned when fn never reported done within the budget.
var ErrExhausted = errors.New("poll: attempt budget exhausted")

// Until invokes fn up to maxAttempts times, sleeping delay between attempts.
// Attempts are numbered from 1. It stops as soon as fn reports done, when the
// budget runs out, or when ctx is canceled during the inter-attempt sleep.
//
// The returned count is the number of attempts actually spent. On exhaustion
// the error wraps ErrExhausted and fn's last error, so callers can both match
// the exhaustion and inspect the final probe failure.
func Until(ctx context.Context, maxAttempts int, delay time.Duration, fn func(ctx context.Context, attempt int) (bool, error)) (int, error) {
	if maxAttempts < 1 {
		return 0, fmt.Errorf("poll: maxAttempts must be >= 1, got %d", maxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		done, err := fn(ctx, attempt)
		if done {
			return attempt, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return maxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
	}
	return maxAttempts, fmt.Errorf("%w after %d attempts", ErrExhausted, maxAttempts)
}
