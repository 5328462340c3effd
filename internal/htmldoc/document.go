// Package htmldoc is an in-memory roster page. It parses saved HTML with x/net/html,
// locates controls with the configured XPath selectors and emulates the behavior a
// pass relies on: dropdown selection, search widgets that render their results
// asynchronously, a blockable submit and a next-page link.
package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/normalize"
)

const (
	// sourceSelectXPath finds the native select a search widget decorates, relative to
	// the widget container.
	sourceSelectXPath = "ancestor::td[1]//select"
	resultsListClass  = "select2-results__options"
	resultOptionClass = "select2-results__option"
)

var (
	// ErrClosed is returned by operations on a closed document.
	ErrClosed = errors.New("document closed")
	// ErrNoSaveControl means the page has no save control to activate.
	ErrNoSaveControl = errors.New("save control not found")
)

// Event is one synthetic event delivered to an element.
type Event struct {
	Target string            `json:"target"`
	Type   control.EventType `json:"type"`
}

// RowState is the value of every field of one row at submission time.
type RowState struct {
	Name   string                `json:"name"`
	Values map[fill.Field]string `json:"values"`
}

// Submission is a snapshot of the form taken when the save control went through.
type Submission struct {
	At   time.Time  `json:"at"`
	Rows []RowState `json:"rows"`
}

// Option configures a Document.
type Option func(*Document)

// WithRenderDelay makes search widgets wait d before rendering results.
func WithRenderDelay(d time.Duration) Option { return func(doc *Document) { doc.renderDelay = d } }

// WithLogger sets the document's logger.
func WithLogger(logger *zap.Logger) Option { return func(doc *Document) { doc.logger = logger } }

// Document is a parsed roster page. All node access goes through mu.
type Document struct {
	mu       sync.Mutex
	root     *html.Node
	sel      config.SelectorsConfig
	fields   map[fill.Field]string
	subs     map[*subscription]struct{}
	owners   map[*html.Node]*html.Node
	blocked  bool
	closed   bool
	events   []Event
	blockedN int
	submits  []Submission

	renderDelay time.Duration
	renders     sync.WaitGroup
	logger      *zap.Logger
}

var _ fill.Page = (*Document)(nil)

// Parse reads an HTML page.
func Parse(r io.Reader, sel config.SelectorsConfig, opts ...Option) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	d := &Document{
		root: root,
		sel:  sel,
		fields: map[fill.Field]string{
			fill.FieldType:          sel.Type,
			fill.FieldPricingGroup:  sel.PricingGroup,
			fill.FieldPricingOption: sel.PricingOption,
			fill.FieldDiscount:      sel.Discount,
		},
		subs:   make(map[*subscription]struct{}),
		owners: make(map[*html.Node]*html.Node),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("htmldoc")
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string, sel config.SelectorsConfig, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), sel, opts...)
}

// Rows lists the form rows in document order.
func (d *Document) Rows(ctx context.Context) ([]fill.Row, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	nodes, err := htmlquery.QueryAll(d.root, d.sel.Rows)
	if err != nil {
		return nil, fmt.Errorf("rows selector: %w", err)
	}
	rows := make([]fill.Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, &row{doc: d, node: n})
	}
	return rows, nil
}

// Form returns the roster form, or nil when there is none.
func (d *Document) Form(ctx context.Context) (fill.Form, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	n, err := htmlquery.Query(d.root, d.sel.Form)
	if err != nil {
		return nil, fmt.Errorf("form selector: %w", err)
	}
	if n == nil {
		return nil, nil
	}
	return &form{doc: d, node: n}, nil
}

// HasSaveControl reports whether the save control is on the page.
func (d *Document) HasSaveControl(ctx context.Context) (bool, error) {
	if err := d.enter(ctx); err != nil {
		return false, err
	}
	defer d.mu.Unlock()
	n, err := htmlquery.Query(d.root, d.sel.SaveButton)
	if err != nil {
		return false, fmt.Errorf("save button selector: %w", err)
	}
	return n != nil, nil
}

// Observe subscribes to structural changes.
func (d *Document) Observe(ctx context.Context) (control.Subscription, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	s := &subscription{doc: d, ch: make(chan struct{}, 1)}
	d.subs[s] = struct{}{}
	return s, nil
}

// ResultOptions returns the search results currently rendered anywhere on the page.
func (d *Document) ResultOptions(ctx context.Context) ([]control.Option, error) {
	if err := d.enter(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()
	nodes, err := htmlquery.QueryAll(d.root, d.sel.SearchResults)
	if err != nil {
		return nil, fmt.Errorf("search results selector: %w", err)
	}
	out := make([]control.Option, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, newOption(d, n))
	}
	return out, nil
}

// Events returns every event dispatched so far.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Submissions returns the snapshots taken by successful submits.
func (d *Document) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submits...)
}

// BlockedSubmits counts submit attempts swallowed while the form was blocked.
func (d *Document) BlockedSubmits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blockedN
}

// State snapshots every row's current field values.
func (d *Document) State() []RowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

// Render writes the page, including every value set so far.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// Close waits for pending renders and ends every subscription.
func (d *Document) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.renders.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()
	for s := range d.subs {
		delete(d.subs, s)
		s.closeLocked()
	}
	return nil
}

// enter locks the document; the caller unlocks on success.
func (d *Document) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (d *Document) notifyLocked() {
	for s := range d.subs {
		select {
		case s.ch <- struct{}{}:
		default:
		}
	}
}

func (d *Document) snapshot() []RowState {
	rows, err := htmlquery.QueryAll(d.root, d.sel.Rows)
	if err != nil {
		return nil
	}
	out := make([]RowState, 0, len(rows))
	for _, r := range rows {
		state := RowState{Values: make(map[fill.Field]string)}
		if cell, _ := htmlquery.Query(r, d.sel.NameCell); cell != nil {
			state.Name = normalize.Key(htmlquery.InnerText(cell))
		}
		for field, expr := range d.fields {
			n, err := htmlquery.Query(r, expr)
			if err != nil || n == nil {
				continue
			}
			if field == fill.FieldDiscount {
				n, _ = htmlquery.Query(n, sourceSelectXPath)
				if n == nil {
					continue
				}
			}
			if opt := selectedOption(n); opt != nil {
				state.Values[field] = strings.TrimSpace(htmlquery.InnerText(opt))
			}
		}
		out = append(out, state)
	}
	return out
}

// render replaces the result list with the source options matching query.
func (d *Document) render(source *html.Node, query string) {
	defer d.renders.Done()
	if d.renderDelay > 0 {
		time.Sleep(d.renderDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.clearResultsLocked()

	body, _ := htmlquery.Query(d.root, "//body")
	if body == nil {
		body = d.root
	}
	list := newElement(atom.Ul, resultsListClass)
	needle := normalize.OptionText(query)
	for _, opt := range optionNodes(source) {
		if htmlquery.SelectAttr(opt, "value") == "" {
			continue
		}
		text := strings.TrimSpace(htmlquery.InnerText(opt))
		if needle != "" && !strings.Contains(normalize.OptionText(text), needle) {
			continue
		}
		li := newElement(atom.Li, resultOptionClass)
		li.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		list.AppendChild(li)
		d.owners[li] = opt
	}
	body.AppendChild(list)
	d.logger.Debug("Rendered search results", zap.String("query", query), zap.Int("results", len(d.owners)))
	d.notifyLocked()
}

func (d *Document) clearResultsLocked() {
	lists, _ := htmlquery.QueryAll(d.root, "//ul[contains(concat(' ', normalize-space(@class), ' '), ' "+resultsListClass+" ')]")
	for _, l := range lists {
		if l.Parent != nil {
			l.Parent.RemoveChild(l)
		}
	}
	d.owners = make(map[*html.Node]*html.Node)
}

type subscription struct {
	doc    *Document
	ch     chan struct{}
	closed bool
}

func (s *subscription) Changes() <-chan struct{} { return s.ch }

func (s *subscription) Close() error {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	delete(s.doc.subs, s)
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// -- node helpers --

func newElement(a atom.Atom, class string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     a.String(),
		DataAtom: a,
		Attr:     []html.Attribute{{Key: "class", Val: class}},
	}
}

func optionNodes(sel *html.Node) []*html.Node {
	nodes, _ := htmlquery.QueryAll(sel, ".//option")
	return nodes
}

func selectedOption(sel *html.Node) *html.Node {
	for _, o := range optionNodes(sel) {
		if htmlquery.ExistsAttr(o, "selected") {
			return o
		}
	}
	return nil
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

// describe names a node for the event log.
func describe(n *html.Node) string {
	if id := htmlquery.SelectAttr(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	if name := htmlquery.SelectAttr(n, "name"); name != "" {
		return n.Data + "[name=" + name + "]"
	}
	if class := strings.Fields(htmlquery.SelectAttr(n, "class")); len(class) > 0 {
		return n.Data + "." + class[0]
	}
	return n.Data
}
