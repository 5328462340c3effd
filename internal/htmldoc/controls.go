package htmldoc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
)

const eventFocus control.EventType = "focus"

type element struct {
	doc  *Document
	node *html.Node
}

func (e *element) Dispatch(ctx context.Context, ev control.EventType) error {
	if err := e.doc.enter(ctx); err != nil {
		return err
	}
	defer e.doc.mu.Unlock()
	e.doc.dispatchLocked(e.node, ev)
	return nil
}

// dispatchLocked records ev and runs the default behavior the page attaches to it.
func (d *Document) dispatchLocked(n *html.Node, ev control.EventType) {
	d.events = append(d.events, Event{Target: describe(n), Type: ev})
	if ev != control.EventClick {
		return
	}
	// Clicking a rendered result commits it to the widget's select.
	if src, ok := d.owners[n]; ok {
		if sel := src.Parent; sel != nil {
			for _, o := range optionNodes(sel) {
				removeAttr(o, "selected")
			}
		}
		setAttr(src, "selected", "selected")
		d.clearResultsLocked()
		d.notifyLocked()
	}
}

type option struct {
	element
	value string
	text  string
}

func newOption(d *Document, n *html.Node) *option {
	value := htmlquery.SelectAttr(n, "value")
	if owner, ok := d.owners[n]; ok {
		value = htmlquery.SelectAttr(owner, "value")
	}
	return &option{
		element: element{doc: d, node: n},
		value:   value,
		text:    strings.TrimSpace(htmlquery.InnerText(n)),
	}
}

func (o *option) Value() string { return o.value }
func (o *option) Text() string  { return o.text }

type dropdown struct {
	element
}

func (s *dropdown) Options(ctx context.Context) ([]control.Option, error) {
	if err := s.doc.enter(ctx); err != nil {
		return nil, err
	}
	defer s.doc.mu.Unlock()
	nodes := optionNodes(s.node)
	out := make([]control.Option, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, newOption(s.doc, n))
	}
	return out, nil
}

func (s *dropdown) SetValue(ctx context.Context, value string) error {
	if err := s.doc.enter(ctx); err != nil {
		return err
	}
	defer s.doc.mu.Unlock()
	var match *html.Node
	for _, o := range optionNodes(s.node) {
		if match == nil && htmlquery.SelectAttr(o, "value") == value {
			match = o
		}
	}
	if match == nil {
		return fmt.Errorf("no option with value %q in %s", value, describe(s.node))
	}
	for _, o := range optionNodes(s.node) {
		removeAttr(o, "selected")
	}
	setAttr(match, "selected", "selected")
	return nil
}

type searchSelect struct {
	element
}

func (w *searchSelect) SearchInput(ctx context.Context) (control.TextInput, error) {
	if err := w.doc.enter(ctx); err != nil {
		return nil, err
	}
	defer w.doc.mu.Unlock()
	n, err := htmlquery.Query(w.node, w.doc.sel.SearchInput)
	if err != nil {
		return nil, fmt.Errorf("search input selector: %w", err)
	}
	if n == nil {
		return nil, nil
	}
	source, _ := htmlquery.Query(w.node, sourceSelectXPath)
	return &textInput{element: element{doc: w.doc, node: n}, source: source}, nil
}

type textInput struct {
	element
	source *html.Node
}

func (t *textInput) Focus(ctx context.Context) error {
	return t.Dispatch(ctx, eventFocus)
}

func (t *textInput) SetText(ctx context.Context, text string) error {
	if err := t.doc.enter(ctx); err != nil {
		return err
	}
	defer t.doc.mu.Unlock()
	setAttr(t.node, "value", text)
	return nil
}

// Dispatch schedules a result render when the widget sees input.
func (t *textInput) Dispatch(ctx context.Context, ev control.EventType) error {
	if err := t.doc.enter(ctx); err != nil {
		return err
	}
	defer t.doc.mu.Unlock()
	t.doc.dispatchLocked(t.node, ev)
	if ev == control.EventInput && t.source != nil {
		t.doc.renders.Add(1)
		go t.doc.render(t.source, htmlquery.SelectAttr(t.node, "value"))
	}
	return nil
}

type row struct {
	doc  *Document
	node *html.Node
}

func (r *row) NameText(ctx context.Context) (string, error) {
	if err := r.doc.enter(ctx); err != nil {
		return "", err
	}
	defer r.doc.mu.Unlock()
	cell, err := htmlquery.Query(r.node, r.doc.sel.NameCell)
	if err != nil {
		return "", fmt.Errorf("name cell selector: %w", err)
	}
	if cell == nil {
		return "", nil
	}
	return htmlquery.InnerText(cell), nil
}

func (r *row) find(ctx context.Context, field fill.Field) (*html.Node, error) {
	expr, ok := r.doc.fields[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	if err := r.doc.enter(ctx); err != nil {
		return nil, err
	}
	defer r.doc.mu.Unlock()
	n, err := htmlquery.Query(r.node, expr)
	if err != nil {
		return nil, fmt.Errorf("%s selector: %w", field, err)
	}
	return n, nil
}

func (r *row) Dropdown(ctx context.Context, field fill.Field) (control.Dropdown, error) {
	n, err := r.find(ctx, field)
	if err != nil || n == nil {
		return nil, err
	}
	return &dropdown{element: element{doc: r.doc, node: n}}, nil
}

func (r *row) SearchSelect(ctx context.Context, field fill.Field) (control.SearchSelect, error) {
	n, err := r.find(ctx, field)
	if err != nil || n == nil {
		return nil, err
	}
	return &searchSelect{element: element{doc: r.doc, node: n}}, nil
}

type form struct {
	doc  *Document
	node *html.Node
}

func (f *form) Block(ctx context.Context) error   { return f.setBlocked(ctx, true) }
func (f *form) Unblock(ctx context.Context) error { return f.setBlocked(ctx, false) }

func (f *form) setBlocked(ctx context.Context, blocked bool) error {
	if err := f.doc.enter(ctx); err != nil {
		return err
	}
	defer f.doc.mu.Unlock()
	f.doc.blocked = blocked
	return nil
}

// Submit clicks the save control. While blocked the resulting submit is swallowed.
func (f *form) Submit(ctx context.Context) error {
	if err := f.doc.enter(ctx); err != nil {
		return err
	}
	defer f.doc.mu.Unlock()
	button, err := htmlquery.Query(f.doc.root, f.doc.sel.SaveButton)
	if err != nil {
		return fmt.Errorf("save button selector: %w", err)
	}
	if button == nil {
		return ErrNoSaveControl
	}
	f.doc.dispatchLocked(button, control.EventClick)
	if f.doc.blocked {
		f.doc.blockedN++
		f.doc.logger.Debug("Submit cancelled by gate")
		return nil
	}
	rows := f.doc.snapshot()
	f.doc.submits = append(f.doc.submits, Submission{At: time.Now(), Rows: rows})
	f.doc.logger.Info("Form submitted", zap.Int("rows", len(rows)))
	return nil
}
