package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is also cancelled when secondary
// is. Values come from primary only; for chromedp that is the tab context, while
// secondary carries the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	// The goroutine stops when either context is done.
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext keeps its parent's values but none of its deadline or cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is not canceled when ctx is.
// Cleanup that must reach the tab after the caller gave up uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
