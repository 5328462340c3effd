package htmldoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/traversal"
)

// Loader opens the page a reference points to.
type Loader interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// DirLoader opens references as filesystem paths.
type DirLoader struct{}

func (DirLoader) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(ref)
}

// Pager walks a chain of saved pages linked by their next-page anchors. It
// satisfies traversal.Browser.
type Pager struct {
	mu      sync.Mutex
	loader  Loader
	sel     config.SelectorsConfig
	opts    []Option
	ref     string
	current *Document
	visited []*Document
	logger  *zap.Logger
}

var _ traversal.Browser = (*Pager)(nil)

// OpenPager loads the first page.
func OpenPager(ctx context.Context, loader Loader, ref string, sel config.SelectorsConfig, logger *zap.Logger, opts ...Option) (*Pager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pager{
		loader: loader,
		sel:    sel,
		opts:   append([]Option{WithLogger(logger)}, opts...),
		logger: logger.Named("pager"),
	}
	if err := p.load(ctx, ref); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pager) load(ctx context.Context, ref string) error {
	rc, err := p.loader.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to open page %q: %w", ref, err)
	}
	defer rc.Close()
	doc, err := Parse(rc, p.sel, p.opts...)
	if err != nil {
		return fmt.Errorf("page %q: %w", ref, err)
	}
	p.mu.Lock()
	p.ref = ref
	p.current = doc
	p.visited = append(p.visited, doc)
	p.mu.Unlock()
	p.logger.Debug("Loaded page", zap.String("ref", ref))
	return nil
}

// Current returns the document on screen.
func (p *Pager) Current() *Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Documents returns every page loaded so far, in order.
func (p *Pager) Documents() []*Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Document(nil), p.visited...)
}

func (p *Pager) Page(context.Context) (fill.Page, error) {
	return p.Current(), nil
}

// WaitReady returns at once; parsed pages are always loaded.
func (p *Pager) WaitReady(ctx context.Context) error {
	return ctx.Err()
}

func (p *Pager) NextPage(ctx context.Context) (traversal.Affordance, error) {
	doc := p.Current()
	if err := doc.enter(ctx); err != nil {
		return nil, err
	}
	defer doc.mu.Unlock()
	n, err := htmlquery.Query(doc.root, doc.sel.NextPage)
	if err != nil {
		return nil, fmt.Errorf("next page selector: %w", err)
	}
	if n == nil {
		return nil, nil
	}
	href := htmlquery.SelectAttr(n, "href")
	if href == "" || href == "#" {
		return nil, nil
	}
	return &nextLink{pager: p, el: element{doc: doc, node: n}, href: href}, nil
}

// Close closes every loaded page.
func (p *Pager) Close() error {
	var errs []error
	for _, d := range p.Documents() {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}

type nextLink struct {
	pager *Pager
	el    element
	href  string
}

// Activate clicks the link and loads its target relative to the current page.
func (l *nextLink) Activate(ctx context.Context) error {
	if err := l.el.Dispatch(ctx, control.EventClick); err != nil {
		return err
	}
	ref := l.href
	if !filepath.IsAbs(ref) {
		l.pager.mu.Lock()
		ref = filepath.Join(filepath.Dir(l.pager.ref), ref)
		l.pager.mu.Unlock()
	}
	return l.pager.load(ctx, ref)
}
