package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/libraryd/apiserver/internal/store"
)

const (
	defaultConflictAttempts = 3
	defaultConflictDelay    = 5 * time.Millisecond
	conflictJitterFactor    = 0.3
)

// retryOnConflict runs fn until it returns something other than
// store.ErrConflict, backing off exponentially between attempts. fn must
// re-read the state it decides on, so a retry reports the precise outcome
// of the transition that won the race.
func retryOnConflict(ctx context.Context, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			delay += time.Duration(rand.Float64() * float64(delay) * conflictJitterFactor) //nolint:gosec
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if !errors.Is(lastErr, store.ErrConflict) {
			return lastErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
