package backoff

import (
	"context"
	"time"
)

// Wait sleeps for the next delay or until ctx is done.
//
// Returns:
//   - error: ctx.Err() if the context ended first, nil otherwise
func (b *Backoff) Wait(ctx context.Context) error {
	timer := time.NewTimer(b.Next())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
