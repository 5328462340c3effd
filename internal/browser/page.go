package browser

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
)

// handle addresses an element tagged by the page runtime.
type handle struct {
	s  *Session
	id string
}

func (h handle) Dispatch(ctx context.Context, ev control.EventType) error {
	return h.s.call(ctx, nil, "dispatch", h.id, string(ev))
}

// optionData mirrors what the runtime returns for options and results.
type optionData struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Text  string `json:"text"`
}

type option struct {
	handle
	value string
	text  string
}

func (o *option) Value() string { return o.value }
func (o *option) Text() string  { return o.text }

func toOptions(s *Session, data []optionData) []control.Option {
	out := make([]control.Option, 0, len(data))
	for _, d := range data {
		out = append(out, &option{handle: handle{s: s, id: d.ID}, value: d.Value, text: d.Text})
	}
	return out
}

type dropdown struct{ handle }

func (d *dropdown) Options(ctx context.Context) ([]control.Option, error) {
	var data []optionData
	if err := d.s.call(ctx, &data, "options", d.id); err != nil {
		return nil, err
	}
	return toOptions(d.s, data), nil
}

func (d *dropdown) SetValue(ctx context.Context, value string) error {
	return d.s.call(ctx, nil, "setValue", d.id, value)
}

type textInput struct{ handle }

func (t *textInput) Focus(ctx context.Context) error {
	return t.s.call(ctx, nil, "focus", t.id)
}

func (t *textInput) SetText(ctx context.Context, text string) error {
	return t.s.call(ctx, nil, "setValue", t.id, text)
}

type searchSelect struct{ handle }

// SearchInput looks for the text box inside the widget container.
func (w *searchSelect) SearchInput(ctx context.Context) (control.TextInput, error) {
	id, err := w.s.query(ctx, w.s.sel.SearchInput, w.id)
	if err != nil || id == "" {
		return nil, err
	}
	return &textInput{handle{s: w.s, id: id}}, nil
}

type row struct{ handle }

func (r *row) NameText(ctx context.Context) (string, error) {
	id, err := r.s.query(ctx, r.s.sel.NameCell, r.id)
	if err != nil || id == "" {
		return "", err
	}
	var text string
	err = r.s.call(ctx, &text, "text", id)
	return text, err
}

func (r *row) locate(ctx context.Context, field fill.Field) (string, error) {
	var expr string
	switch field {
	case fill.FieldType:
		expr = r.s.sel.Type
	case fill.FieldPricingGroup:
		expr = r.s.sel.PricingGroup
	case fill.FieldPricingOption:
		expr = r.s.sel.PricingOption
	case fill.FieldDiscount:
		expr = r.s.sel.Discount
	default:
		return "", fmt.Errorf("unknown field %q", field)
	}
	return r.s.query(ctx, expr, r.id)
}

func (r *row) Dropdown(ctx context.Context, field fill.Field) (control.Dropdown, error) {
	id, err := r.locate(ctx, field)
	if err != nil || id == "" {
		return nil, err
	}
	return &dropdown{handle{s: r.s, id: id}}, nil
}

func (r *row) SearchSelect(ctx context.Context, field fill.Field) (control.SearchSelect, error) {
	id, err := r.locate(ctx, field)
	if err != nil || id == "" {
		return nil, err
	}
	return &searchSelect{handle{s: r.s, id: id}}, nil
}

type form struct{ handle }

func (f *form) Block(ctx context.Context) error {
	return f.s.call(ctx, nil, "block", f.id)
}

// Unblock reaches the page even when ctx has been cancelled.
func (f *form) Unblock(ctx context.Context) error {
	return f.s.call(Detach(ctx), nil, "unblock", f.id)
}

// Submit clicks the save control the way a user would.
func (f *form) Submit(ctx context.Context) error {
	id, err := f.s.query(ctx, f.s.sel.SaveButton, "")
	if err != nil {
		return err
	}
	if id == "" {
		return ErrNoSaveControl
	}
	return f.s.call(ctx, nil, "click", id)
}

type nextLink struct{ handle }

func (l *nextLink) Activate(ctx context.Context) error {
	l.s.logger.Info("Following next page link")
	return l.s.call(ctx, nil, "click", l.id)
}

// rosterPage is the fill surface of the session's current document.
type rosterPage struct {
	s *Session
}

var _ fill.Page = (*rosterPage)(nil)

func (p *rosterPage) Rows(ctx context.Context) ([]fill.Row, error) {
	ids, err := p.s.queryAll(ctx, p.s.sel.Rows, "")
	if err != nil {
		return nil, err
	}
	rows := make([]fill.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, &row{handle{s: p.s, id: id}})
	}
	return rows, nil
}

func (p *rosterPage) Form(ctx context.Context) (fill.Form, error) {
	id, err := p.s.query(ctx, p.s.sel.Form, "")
	if err != nil || id == "" {
		return nil, err
	}
	return &form{handle{s: p.s, id: id}}, nil
}

func (p *rosterPage) Observe(ctx context.Context) (control.Subscription, error) {
	return p.s.observe(ctx)
}

func (p *rosterPage) ResultOptions(ctx context.Context) ([]control.Option, error) {
	var data []optionData
	if err := p.s.call(ctx, &data, "results", p.s.sel.SearchResults); err != nil {
		return nil, err
	}
	return toOptions(p.s, data), nil
}
