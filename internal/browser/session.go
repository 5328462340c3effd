package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/traversal"
)

//go:embed runtime.js
var runtimeJS string

const (
	mutationBinding   = "__rosterfillMutation"
	readyPollInterval = 250 * time.Millisecond
	savePollInterval  = 500 * time.Millisecond
)

var (
	// ErrNotReady means the document did not finish loading in time.
	ErrNotReady = errors.New("document not ready")
	// ErrNoSaveControl means the page has no save control to activate.
	ErrNoSaveControl = errors.New("save control not found")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("browser session closed")
)

// Session is one browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	sel    config.SelectorsConfig
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[*subscription]struct{}
	closed  bool
	onClose func()

	// observeMu orders page observer setup against its teardown.
	observeMu  sync.Mutex
	disconnect func(ctx context.Context) error
}

var _ traversal.Browser = (*Session)(nil)

func newSession(id string, tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, sel config.SelectorsConfig, logger *zap.Logger) *Session {
	s := &Session{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		sel:    sel,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		subs:   make(map[*subscription]struct{}),
	}
	s.disconnect = func(ctx context.Context) error { return s.call(ctx, nil, "unobserve") }
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// install registers the mutation binding and the page runtime, for this document and
// every later one.
func (s *Session) install(ctx context.Context) error {
	chromedp.ListenTarget(s.ctx, s.handleEvent)
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := cdpruntime.AddBinding(mutationBinding).Do(ctx); err != nil {
				return fmt.Errorf("failed to add mutation binding: %w", err)
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(runtimeJS).Do(ctx); err != nil {
				return fmt.Errorf("failed to register page runtime: %w", err)
			}
			return nil
		}),
		chromedp.Evaluate(runtimeJS, nil),
	)
}

// handleEvent runs on chromedp's event loop and must not block.
func (s *Session) handleEvent(ev any) {
	called, ok := ev.(*cdpruntime.EventBindingCalled)
	if !ok || called.Name != mutationBinding {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// run executes actions on the tab, bounded by ctx and the configured action timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}
	return chromedp.Run(runCtx, actions...)
}

// expression renders a call into the page runtime.
func expression(method string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument %d of %s: %w", i, method, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("window.__rosterfill.%s(%s)", method, strings.Join(encoded, ", ")), nil
}

func (s *Session) call(ctx context.Context, res any, method string, args ...any) error {
	expr, err := expression(method, args...)
	if err != nil {
		return err
	}
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Navigate loads url and waits for it to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating", zap.String("url", url))
	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	return control.Sleep(ctx, s.cfg.PostLoadWait)
}

// Location returns the current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, s.cfg.ActionTimeout, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// WaitReady polls until the document reports complete.
func (s *Session) WaitReady(ctx context.Context) error {
	ok, err := control.WaitFor(ctx, readyPollInterval, s.cfg.NavigationTimeout, func(ctx context.Context) (bool, error) {
		var ready bool
		err := s.call(ctx, &ready, "ready")
		return ready, err
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReady
	}
	return nil
}

// WaitForSaveControl polls for the save control, which marks a page as a roster form.
func (s *Session) WaitForSaveControl(ctx context.Context, timeout time.Duration) (bool, error) {
	return control.WaitFor(ctx, savePollInterval, timeout, func(ctx context.Context) (bool, error) {
		id, err := s.query(ctx, s.sel.SaveButton, "")
		return id != "", err
	})
}

// Page returns the fill surface for the current document.
func (s *Session) Page(context.Context) (fill.Page, error) {
	return &rosterPage{s: s}, nil
}

// NextPage returns the next-page link, or nil on the last page.
func (s *Session) NextPage(ctx context.Context) (traversal.Affordance, error) {
	id, err := s.query(ctx, s.sel.NextPage, "")
	if err != nil || id == "" {
		return nil, err
	}
	return &nextLink{handle{s: s, id: id}}, nil
}

func (s *Session) query(ctx context.Context, expr, scope string) (string, error) {
	var id string
	err := s.call(ctx, &id, "query", expr, scope)
	return id, err
}

func (s *Session) queryAll(ctx context.Context, expr, scope string) ([]string, error) {
	var ids []string
	err := s.call(ctx, &ids, "queryAll", expr, scope)
	return ids, err
}

// Close closes the tab and ends every subscription.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		delete(s.subs, sub)
		sub.closeLocked()
	}
	s.mu.Unlock()

	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
	s.logger.Debug("Session closed")
	return nil
}

type subscription struct {
	s      *Session
	ch     chan struct{}
	closed bool
}

func (sub *subscription) Changes() <-chan struct{} { return sub.ch }

// Close ends the subscription. The last one to go disconnects the page observer.
func (sub *subscription) Close() error {
	s := sub.s
	s.mu.Lock()
	_, registered := s.subs[sub]
	delete(s.subs, sub)
	sub.closeLocked()
	last := registered && len(s.subs) == 0 && !s.closed
	s.mu.Unlock()
	if !last {
		return nil
	}

	s.observeMu.Lock()
	defer s.observeMu.Unlock()
	s.mu.Lock()
	idle := len(s.subs) == 0 && !s.closed
	s.mu.Unlock()
	if !idle {
		return nil
	}
	if err := s.disconnect(context.Background()); err != nil {
		s.logger.Debug("Failed to disconnect page observer", zap.Error(err))
		return err
	}
	return nil
}

func (sub *subscription) closeLocked() {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

func (s *Session) observe(ctx context.Context) (control.Subscription, error) {
	s.observeMu.Lock()
	defer s.observeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	sub := &subscription{s: s, ch: make(chan struct{}, 1)}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	if err := s.call(ctx, nil, "observe", mutationBinding); err != nil {
		s.mu.Lock()
		delete(s.subs, sub)
		sub.closeLocked()
		s.mu.Unlock()
		return nil, err
	}
	return sub, nil
}
