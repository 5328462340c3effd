// Package fill runs one fill pass over a roster page: match rows to records, resolve
// each row's fields in a fixed order, hold the form's submit until every row has been
// attempted, then submit once if anything was written.
package fill

import (
	"context"
	"errors"

	"github.com/xkilldash9x/rosterfill/internal/control"
)

// Field names one of the four roster columns a row exposes.
type Field string

const (
	FieldType          Field = "type"
	FieldPricingGroup  Field = "pricing_group"
	FieldPricingOption Field = "pricing_option"
	FieldDiscount      Field = "discount"
)

// DropdownFields are resolved, in this order, before the discount.
var DropdownFields = []Field{FieldType, FieldPricingGroup, FieldPricingOption}

var (
	// ErrFillInProgress is returned when a pass is requested while another is running.
	ErrFillInProgress = errors.New("fill already in progress")
	// ErrFormNotFound means the page has no form to gate and submit.
	ErrFormNotFound = errors.New("form not found on page")
)

// Row is one on-page form row.
type Row interface {
	// NameText is the visible text of the row's name cell.
	NameText(ctx context.Context) (string, error)
	// Dropdown returns the row's control for field, or nil when the row lacks one.
	Dropdown(ctx context.Context, field Field) (control.Dropdown, error)
	// SearchSelect returns the row's search widget for field, or nil when absent.
	SearchSelect(ctx context.Context, field Field) (control.SearchSelect, error)
}

// Form is the page's roster form.
type Form interface {
	// Block installs a capture-phase listener that cancels every submit event
	// (default action and propagation) until Unblock is called.
	Block(ctx context.Context) error
	Unblock(ctx context.Context) error
	// Submit activates the form's real save control.
	Submit(ctx context.Context) error
}

// Page is everything a pass needs from the current document.
type Page interface {
	control.Document
	// Rows lists form rows in document order.
	Rows(ctx context.Context) ([]Row, error)
	// Form returns the roster form, or nil when the page has none.
	Form(ctx context.Context) (Form, error)
}
