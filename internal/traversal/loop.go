// Package traversal repeats fill passes across paginated rosters while auto mode is on.
package traversal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/record"
)

// State of the auto-mode machine.
type State string

const (
	StateActive State = "ACTIVE"
	StateDone   State = "DONE"
)

// ErrPageLimit means the page ceiling was hit while a next page was still offered.
var ErrPageLimit = errors.New("page limit reached")

// Affordance is the page's "next page" control.
type Affordance interface {
	Activate(ctx context.Context) error
}

// Browser is the tab the loop drives.
type Browser interface {
	// Page returns the fill surface for the currently loaded document.
	Page(ctx context.Context) (fill.Page, error)
	// WaitReady blocks until the current document has finished loading.
	WaitReady(ctx context.Context) error
	// NextPage returns the next-page affordance, or nil when there is none.
	NextPage(ctx context.Context) (Affordance, error)
}

// Passer runs one fill pass. *fill.Runner satisfies it.
type Passer interface {
	RunPass(ctx context.Context, page fill.Page, table *record.Table) (*fill.Report, error)
}

// FlagStore persists the auto-mode flag.
type FlagStore interface {
	AutoMode(ctx context.Context) (bool, error)
	SetAutoMode(ctx context.Context, enabled bool) error
}

// ReportSink receives every pass report, e.g. for history.
type ReportSink interface {
	AppendReport(ctx context.Context, report *fill.Report) error
}

// Summary describes a whole run.
type Summary struct {
	AutoMode  bool
	States    []State
	Reports   []*fill.Report
	Completed bool
}

// Config tunes the loop.
type Config struct {
	// SettleDelay is waited after each pass and after each page change.
	SettleDelay time.Duration
	// ReadyTimeout bounds each wait for the document to finish loading.
	ReadyTimeout time.Duration
	// MaxPages caps how many pages one run may fill.
	MaxPages int
}

// Loop drives the ACTIVE/DONE machine.
type Loop struct {
	cfg     Config
	passer  Passer
	browser Browser
	flags   FlagStore
	sink    ReportSink
	notify  func(ctx context.Context, s *Summary)
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

// Option customizes a Loop.
type Option func(*Loop)

// WithReportSink records every pass report.
func WithReportSink(sink ReportSink) Option { return func(l *Loop) { l.sink = sink } }

// WithCompletionNotifier is called exactly once when the last page has been filled.
func WithCompletionNotifier(fn func(ctx context.Context, s *Summary)) Option {
	return func(l *Loop) { l.notify = fn }
}

// WithSleep replaces the settle wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// New builds a loop.
func New(cfg Config, passer Passer, browser Browser, flags FlagStore, logger *zap.Logger, opts ...Option) *Loop {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		cfg:     cfg,
		passer:  passer,
		browser: browser,
		flags:   flags,
		notify:  func(context.Context, *Summary) {},
		sleep:   control.Sleep,
		logger:  logger.Named("traversal"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run fills the current page and, while auto mode is on, every following page.
// With auto mode off it is a single pass. A failed pass stops the loop and leaves the
// flag set so a later run resumes where this one stopped.
func (l *Loop) Run(ctx context.Context, table *record.Table) (*Summary, error) {
	auto, err := l.flags.AutoMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read auto mode flag: %w", err)
	}
	summary := &Summary{AutoMode: auto}

	if !auto {
		_, err := l.pass(ctx, summary, table, 1)
		return summary, err
	}

	summary.States = append(summary.States, StateActive)
	for pageNo := 1; ; pageNo++ {
		report, err := l.pass(ctx, summary, table, pageNo)
		if err != nil {
			return summary, err
		}
		logger := l.logger.With(zap.Int("page", pageNo), zap.String("outcome", string(report.Outcome)))

		if err := l.settle(ctx); err != nil {
			return summary, err
		}

		next, err := l.browser.NextPage(ctx)
		if err != nil {
			return summary, fmt.Errorf("failed to look for next page: %w", err)
		}
		if next == nil {
			summary.States = append(summary.States, StateDone)
			summary.Completed = true
			if err := l.flags.SetAutoMode(ctx, false); err != nil {
				return summary, fmt.Errorf("failed to clear auto mode flag: %w", err)
			}
			logger.Info("No next page, auto mode finished", zap.Int("pages", pageNo))
			l.notify(ctx, summary)
			return summary, nil
		}

		if pageNo >= l.cfg.MaxPages {
			summary.States = append(summary.States, StateDone)
			if err := l.flags.SetAutoMode(ctx, false); err != nil {
				logger.Warn("Failed to clear auto mode flag", zap.Error(err))
			}
			return summary, fmt.Errorf("%w: stopped after %d pages", ErrPageLimit, pageNo)
		}

		summary.States = append(summary.States, StateActive)
		logger.Info("Moving to next page")
		if err := next.Activate(ctx); err != nil {
			return summary, fmt.Errorf("failed to activate next page: %w", err)
		}
		if err := l.settle(ctx); err != nil {
			return summary, err
		}
	}
}

func (l *Loop) pass(ctx context.Context, summary *Summary, table *record.Table, pageNo int) (*fill.Report, error) {
	page, err := l.browser.Page(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to page %d: %w", pageNo, err)
	}
	report, err := l.passer.RunPass(ctx, page, table)
	if report != nil {
		report.Page = pageNo
		summary.Reports = append(summary.Reports, report)
		if l.sink != nil {
			if serr := l.sink.AppendReport(context.WithoutCancel(ctx), report); serr != nil {
				l.logger.Warn("Failed to record pass report", zap.Error(serr))
			}
		}
	}
	if err != nil {
		return report, fmt.Errorf("page %d: %w", pageNo, err)
	}
	return report, nil
}

// settle waits the fixed delay, then for the document to be ready.
func (l *Loop) settle(ctx context.Context) error {
	if err := l.sleep(ctx, l.cfg.SettleDelay); err != nil {
		return err
	}
	readyCtx := ctx
	if l.cfg.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, l.cfg.ReadyTimeout)
		defer cancel()
	}
	if err := l.browser.WaitReady(readyCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("page did not become ready: %w", err)
	}
	return nil
}
