package fill

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/normalize"
	"github.com/xkilldash9x/rosterfill/internal/record"
)

// Columns maps each field to the record column holding its expected value.
type Columns struct {
	Type          string
	PricingGroup  string
	PricingOption string
	Discount      string
}

// DefaultColumns matches the stock roster export.
var DefaultColumns = Columns{
	Type:          "Child Type",
	PricingGroup:  "Pricing Group",
	PricingOption: "Pricing Option",
	Discount:      "Discounts",
}

func (c Columns) column(f Field) string {
	switch f {
	case FieldType:
		return c.Type
	case FieldPricingGroup:
		return c.PricingGroup
	case FieldPricingOption:
		return c.PricingOption
	case FieldDiscount:
		return c.Discount
	}
	return ""
}

// Result is what one FillAll call produced.
type Result struct {
	Failures        FailureLog `json:"failures"`
	Filled          bool       `json:"filled"`
	RowsSeen        int        `json:"rows_seen"`
	RowsMatched     int        `json:"rows_matched"`
	RowsSkipped     int        `json:"rows_skipped"`
	FieldsAttempted int        `json:"fields_attempted"`
	FieldsFilled    int        `json:"fields_filled"`
}

// Orchestrator walks rows and resolves their fields one at a time.
type Orchestrator struct {
	resolver   *control.Resolver
	columns    Columns
	fieldDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithFieldSleep replaces the wait used for the inter-field pause.
func WithFieldSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// NewOrchestrator builds an orchestrator; fieldDelay is the settle pause after each
// attempted field.
func NewOrchestrator(resolver *control.Resolver, columns Columns, fieldDelay time.Duration, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		resolver:   resolver,
		columns:    columns,
		fieldDelay: fieldDelay,
		sleep:      control.Sleep,
		logger:     logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FillAll resolves every matched row in rows against table. The returned Result is
// never nil; an error means the pass broke (cancellation, vanished element) and the
// Result holds whatever was done before that.
func (o *Orchestrator) FillAll(ctx context.Context, doc control.Document, rows []Row, table *record.Table) (*Result, error) {
	res := &Result{}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.RowsSeen++

		name, err := row.NameText(ctx)
		if err != nil {
			return res, fmt.Errorf("row %d: failed to read name cell: %w", i+1, err)
		}
		key := normalize.Key(name)
		rec, ok := table.Lookup(key)
		if key == "" || !ok {
			res.RowsSkipped++
			o.logger.Debug("No record for row", zap.Int("row", i+1), zap.String("key", key))
			continue
		}
		res.RowsMatched++

		if err := o.fillRow(ctx, doc, row, rec, res); err != nil {
			return res, fmt.Errorf("row %q: %w", key, err)
		}
	}

	o.logger.Info("Rows processed",
		zap.Int("seen", res.RowsSeen),
		zap.Int("matched", res.RowsMatched),
		zap.Int("fields_filled", res.FieldsFilled),
		zap.Int("failures", len(res.Failures)))
	return res, nil
}

func (o *Orchestrator) fillRow(ctx context.Context, doc control.Document, row Row, rec record.Record, res *Result) error {
	key := rec.Key()

	for _, field := range DropdownFields {
		expected := rec.Get(o.columns.column(field))
		dd, err := row.Dropdown(ctx, field)
		if err != nil {
			return fmt.Errorf("failed to locate %s control: %w", field, err)
		}
		ok, err := o.resolver.ResolveDropdown(ctx, dd, expected)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", field, err)
		}
		o.record(res, key, field, expected, ok)
		if err := o.sleep(ctx, o.fieldDelay); err != nil {
			return err
		}
	}

	discount := rec.Get(o.columns.Discount)
	if discount == "" || o.resolver.IsNoSelection(discount) {
		return nil
	}
	widget, err := row.SearchSelect(ctx, FieldDiscount)
	if err != nil {
		return fmt.Errorf("failed to locate %s widget: %w", FieldDiscount, err)
	}
	ok, err := o.resolver.ResolveSearchSelect(ctx, doc, widget, discount)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", FieldDiscount, err)
	}
	o.record(res, key, FieldDiscount, discount, ok)
	return o.sleep(ctx, o.fieldDelay)
}

func (o *Orchestrator) record(res *Result, key string, field Field, expected string, ok bool) {
	res.FieldsAttempted++
	if ok {
		res.Filled = true
		res.FieldsFilled++
		o.logger.Info("Field set", zap.String("row", key), zap.String("field", string(field)), zap.String("value", expected))
		return
	}
	res.Failures = append(res.Failures, Failure{RowKey: key, Field: field, Expected: expected})
	o.logger.Warn("Field not set", zap.String("row", key), zap.String("field", string(field)), zap.String("expected", expected))
}
