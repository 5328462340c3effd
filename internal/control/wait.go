package control

import (
	"context"
	"errors"
	"time"
)

// DefaultPollInterval is used when WaitFor is given a non-positive interval.
const DefaultPollInterval = 200 * time.Millisecond

// Condition reports whether the awaited state has been reached. Errors are treated as
// "not yet": pages mid-navigation routinely fail evaluations.
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond immediately and then every interval until it holds or maxWait
// elapses. It returns true when found, false on timeout, and an error only when ctx
// itself is done.
func WaitFor(ctx context.Context, interval, maxWait time.Duration, cond Condition) (bool, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	waitCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if ok, err := cond(waitCtx); err == nil && ok {
			return true, nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return false, err
			}
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return false, nil
			}
			return false, waitCtx.Err()
		case <-ticker.C:
		}
	}
}
