// Package control drives form controls into a target state. It knows nothing about how
// elements are located; backends hand it handles satisfying the interfaces below.
package control

import (
	"context"
	"fmt"
)

// EventType names a DOM event a handle can dispatch. Events bubble.
type EventType string

const (
	EventChange    EventType = "change"
	EventInput     EventType = "input"
	EventMouseDown EventType = "mousedown"
	EventMouseUp   EventType = "mouseup"
	EventClick     EventType = "click"
)

// Element is anything that can receive a synthetic DOM event.
type Element interface {
	Dispatch(ctx context.Context, event EventType) error
}

// Option is one entry of a dropdown or of a search widget's result list.
type Option interface {
	Element
	Value() string
	Text() string
}

// Dropdown is a native single-select control with a locally enumerable option list.
type Dropdown interface {
	Element
	// Options returns the option list as it is right now; it may grow as the page loads.
	Options(ctx context.Context) ([]Option, error)
	SetValue(ctx context.Context, value string) error
}

// TextInput is the text box a search widget listens to.
type TextInput interface {
	Element
	Focus(ctx context.Context) error
	SetText(ctx context.Context, text string) error
}

// SearchSelect is an enhanced select that renders its options asynchronously in
// response to typed text.
type SearchSelect interface {
	// SearchInput returns the widget's text box, or nil when it has none.
	SearchInput(ctx context.Context) (TextInput, error)
}

// Document exposes structural change notifications for the whole page and the result
// options search widgets render into it.
type Document interface {
	Observe(ctx context.Context) (Subscription, error)
	ResultOptions(ctx context.Context) ([]Option, error)
}

// Subscription delivers one notification per batch of structural mutations.
// Close must be safe to call more than once.
type Subscription interface {
	Changes() <-chan struct{}
	Close() error
}

// MechanicalClick dispatches press, release and click, in that order. Some widgets
// only react to the full gesture, so all three are always sent.
func MechanicalClick(ctx context.Context, el Element) error {
	for _, ev := range []EventType{EventMouseDown, EventMouseUp, EventClick} {
		if err := el.Dispatch(ctx, ev); err != nil {
			return fmt.Errorf("dispatch %s: %w", ev, err)
		}
	}
	return nil
}
