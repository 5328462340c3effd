package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/normalize"
)

// Defaults for a Resolver.
const (
	DefaultMaxAttempts   = 5
	DefaultRetryDelay    = 200 * time.Millisecond
	DefaultSearchTimeout = 8 * time.Second
	DefaultNoSelection   = "0"
)

// ResolverConfig tunes retry and timeout behavior.
type ResolverConfig struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	SearchTimeout time.Duration
	// NoSelection is the value meaning "leave the search widget empty".
	NoSelection string
}

// Resolver drives dropdowns and search widgets into a target state. A miss is a
// false result, never an error; errors mean cancellation or a broken handle.
type Resolver struct {
	cfg    ResolverConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithSleep replaces the wait used between dropdown attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ResolverOption {
	return func(r *Resolver) { r.sleep = sleep }
}

// NewResolver fills zero config values with defaults.
func NewResolver(cfg ResolverConfig, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.NoSelection == "" {
		cfg.NoSelection = DefaultNoSelection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		cfg:    cfg,
		logger: logger.Named("resolver"),
		sleep:  Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective configuration.
func (r *Resolver) Config() ResolverConfig { return r.cfg }

// IsNoSelection reports whether value is the "intentionally empty" sentinel.
func (r *Resolver) IsNoSelection(value string) bool {
	return value == r.cfg.NoSelection
}

// ResolveDropdown selects the option whose normalized text equals the normalized target.
// The option list is rescanned up to MaxAttempts times with RetryDelay between scans;
// there is no wait after the last scan. On a miss the control is left untouched.
func (r *Resolver) ResolveDropdown(ctx context.Context, dd Dropdown, target string) (bool, error) {
	if dd == nil || target == "" {
		return false, nil
	}
	want := normalize.OptionText(target)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		options, err := dd.Options(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list dropdown options: %w", err)
		}

		for _, opt := range options {
			if normalize.OptionText(opt.Text()) != want {
				continue
			}
			if err := r.applyDropdown(ctx, dd, opt); err != nil {
				return false, err
			}
			r.logger.Debug("Dropdown resolved", zap.String("target", target), zap.Int("attempt", attempt))
			return true, nil
		}

		r.logger.Debug("Dropdown option not present yet",
			zap.String("target", target), zap.Int("attempt", attempt), zap.Int("options", len(options)))

		if attempt < r.cfg.MaxAttempts {
			if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
				return false, err
			}
		}
	}

	r.logger.Debug("Dropdown unresolved", zap.String("target", target), zap.Int("attempts", r.cfg.MaxAttempts))
	return false, nil
}

// applyDropdown sets the value, announces the change, then gestures on the control and
// the option.
func (r *Resolver) applyDropdown(ctx context.Context, dd Dropdown, opt Option) error {
	if err := dd.SetValue(ctx, opt.Value()); err != nil {
		return fmt.Errorf("failed to set dropdown value: %w", err)
	}
	if err := dd.Dispatch(ctx, EventChange); err != nil {
		return fmt.Errorf("failed to dispatch change: %w", err)
	}
	if err := MechanicalClick(ctx, dd); err != nil {
		return fmt.Errorf("failed to click dropdown: %w", err)
	}
	if err := MechanicalClick(ctx, opt); err != nil {
		return fmt.Errorf("failed to click option: %w", err)
	}
	return nil
}

// ResolveSearchSelect types target into the widget's search box and clicks the first
// rendered result whose trimmed text equals target exactly. The document subscription
// is opened before typing and closed on every return path. Gives up with false after
// SearchTimeout.
func (r *Resolver) ResolveSearchSelect(ctx context.Context, doc Document, widget SearchSelect, target string) (bool, error) {
	if widget == nil || target == "" || r.IsNoSelection(target) {
		return false, nil
	}
	if doc == nil {
		return false, errors.New("search select requires a document")
	}

	input, err := widget.SearchInput(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to locate search input: %w", err)
	}
	if input == nil {
		r.logger.Debug("Search widget has no input", zap.String("target", target))
		return false, nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	sub, err := doc.Observe(searchCtx)
	if err != nil {
		return false, fmt.Errorf("failed to observe document: %w", err)
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			r.logger.Debug("Closing mutation subscription failed", zap.Error(cerr))
		}
	}()

	if err := input.Focus(searchCtx); err != nil {
		return r.searchFailed(ctx, searchCtx, target, fmt.Errorf("failed to focus search input: %w", err))
	}
	if err := input.SetText(searchCtx, target); err != nil {
		return r.searchFailed(ctx, searchCtx, target, fmt.Errorf("failed to type search text: %w", err))
	}
	if err := input.Dispatch(searchCtx, EventInput); err != nil {
		return r.searchFailed(ctx, searchCtx, target, fmt.Errorf("failed to dispatch input: %w", err))
	}
	r.logger.Debug("Searching", zap.String("target", target))

	changes := sub.Changes()
	for {
		select {
		case <-searchCtx.Done():
			return r.searchFailed(ctx, searchCtx, target, searchCtx.Err())
		case _, ok := <-changes:
			if !ok {
				return false, errors.New("mutation subscription closed unexpectedly")
			}
			options, err := doc.ResultOptions(searchCtx)
			if err != nil {
				return r.searchFailed(ctx, searchCtx, target, fmt.Errorf("failed to read search results: %w", err))
			}
			for _, opt := range options {
				if strings.TrimSpace(opt.Text()) != target {
					continue
				}
				if err := MechanicalClick(searchCtx, opt); err != nil {
					return r.searchFailed(ctx, searchCtx, target, fmt.Errorf("failed to click result: %w", err))
				}
				r.logger.Debug("Search select resolved", zap.String("target", target))
				return true, nil
			}
		}
	}
}

// searchFailed sorts a search error into caller cancellation (error), the search
// ceiling (soft miss) or a real failure (error).
func (r *Resolver) searchFailed(parent, searchCtx context.Context, target string, err error) (bool, error) {
	if perr := parent.Err(); perr != nil {
		return false, perr
	}
	if errors.Is(searchCtx.Err(), context.DeadlineExceeded) {
		r.logger.Debug("Search select timed out",
			zap.String("target", target), zap.Duration("timeout", r.cfg.SearchTimeout))
		return false, nil
	}
	return false, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
