// Package poll implements bounded polling against an eventually consistent
// remote API.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the overall polling deadline elapses before the
// watched operation reaches a terminal state. The remote operation may still
// complete afterwards; callers must treat the resource as indeterminate, not
// as rejected.
var ErrTimeout = errors.New("timed out waiting for terminal state")

// Until calls check every interval until it reports done, returns an error,
// or timeout elapses. The first check runs immediately. A nil return means
// the operation reached its desired terminal state.
//
// check should handle transient errors itself (e.g. with bounded retries) and
// only return an error for terminal failures.
func Until(ctx context.Context, interval, timeout time.Duration, check func(context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
