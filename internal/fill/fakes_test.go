package fill

import (
	"context"
	"sync"

	"github.com/xkilldash9x/rosterfill/internal/control"
)

// -- Controls --

type fakeOption struct{ value, text string }

func (o *fakeOption) Value() string                                     { return o.value }
func (o *fakeOption) Text() string                                      { return o.text }
func (o *fakeOption) Dispatch(context.Context, control.EventType) error { return nil }

type fakeDropdown struct {
	options []string
	value   string
}

func (d *fakeDropdown) Options(context.Context) ([]control.Option, error) {
	out := make([]control.Option, 0, len(d.options))
	for _, o := range d.options {
		out = append(out, &fakeOption{value: o, text: o})
	}
	return out, nil
}
func (d *fakeDropdown) SetValue(_ context.Context, v string) error   { d.value = v; return nil }
func (d *fakeDropdown) Dispatch(context.Context, control.EventType) error { return nil }

type fakeInput struct{}

func (fakeInput) Focus(context.Context) error                       { return nil }
func (fakeInput) SetText(context.Context, string) error             { return nil }
func (fakeInput) Dispatch(context.Context, control.EventType) error { return nil }

type fakeWidget struct{}

func (fakeWidget) SearchInput(context.Context) (control.TextInput, error) { return fakeInput{}, nil }

// -- Rows --

type fakeRow struct {
	name      string
	dropdowns map[Field]*fakeDropdown
	widget    control.SearchSelect
	// block, when set, makes NameText wait until it is closed.
	block   chan struct{}
	started chan struct{}
	panicOn bool
	once    sync.Once

	mu           sync.Mutex
	controlCalls []Field
}

func (r *fakeRow) NameText(ctx context.Context) (string, error) {
	if r.panicOn {
		panic("name cell detached")
	}
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.name, nil
}

func (r *fakeRow) Dropdown(_ context.Context, f Field) (control.Dropdown, error) {
	r.mu.Lock()
	r.controlCalls = append(r.controlCalls, f)
	r.mu.Unlock()
	dd, ok := r.dropdowns[f]
	if !ok {
		return nil, nil
	}
	return dd, nil
}

func (r *fakeRow) SearchSelect(_ context.Context, f Field) (control.SearchSelect, error) {
	r.mu.Lock()
	r.controlCalls = append(r.controlCalls, f)
	r.mu.Unlock()
	return r.widget, nil
}

func (r *fakeRow) calls() []Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Field(nil), r.controlCalls...)
}

// -- Page --

type fakeForm struct {
	mu              sync.Mutex
	blocked         bool
	blocks          int
	unblocks        int
	submits         int
	submitWhileShut bool
}

func (f *fakeForm) Block(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = true
	f.blocks++
	return nil
}

func (f *fakeForm) Unblock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = false
	f.unblocks++
	return nil
}

func (f *fakeForm) Submit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked {
		f.submitWhileShut = true
	}
	f.submits++
	return nil
}

type fakeSub struct{ ch chan struct{} }

func (s *fakeSub) Changes() <-chan struct{} { return s.ch }
func (s *fakeSub) Close() error             { return nil }

type fakePage struct {
	rows     []Row
	form     *fakeForm
	noForm   bool
	results  []string
	observed int
}

func (p *fakePage) Rows(context.Context) ([]Row, error) { return p.rows, nil }

func (p *fakePage) Form(context.Context) (Form, error) {
	if p.noForm {
		return nil, nil
	}
	return p.form, nil
}

// Observe hands out a subscription with one pending notification so a search
// resolves on the first scan.
func (p *fakePage) Observe(context.Context) (control.Subscription, error) {
	p.observed++
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return &fakeSub{ch: ch}, nil
}

func (p *fakePage) ResultOptions(context.Context) ([]control.Option, error) {
	out := make([]control.Option, 0, len(p.results))
	for _, r := range p.results {
		out = append(out, &fakeOption{value: r, text: r})
	}
	return out, nil
}

func stdDropdowns() map[Field]*fakeDropdown {
	return map[Field]*fakeDropdown{
		FieldType:          {options: []string{"Infant", "Toddler"}},
		FieldPricingGroup:  {options: []string{"Full Time", "Part Time"}},
		FieldPricingOption: {options: []string{"5 Days", "3 Days"}},
	}
}
