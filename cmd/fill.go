package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/browser"
	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/store"
	"github.com/xkilldash9x/rosterfill/internal/traversal"
)

// browserJob fills the roster open in a browser tab.
type browserJob struct {
	cfg      *config.Config
	repo     store.Repository
	manager  *browser.Manager
	url      string
	csvPath  string
	stdin    io.Reader
	out      io.Writer
	override func(*config.FillConfig)
	logger   *zap.Logger
}

// Run loads the roster, opens a tab and runs the traversal loop on it.
func (j *browserJob) Run(ctx context.Context) (*traversal.Summary, error) {
	cfg := *j.cfg
	raw, err := loadSettings(ctx, &cfg, j.repo)
	if err != nil {
		return nil, err
	}
	if j.override != nil {
		j.override(&cfg.Fill)
	}
	if j.csvPath != "" {
		if raw, err = readCSV(j.csvPath, j.stdin); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(raw) == "" {
		return nil, errNoRoster
	}
	table, err := parseRoster(&cfg, raw, j.logger)
	if err != nil {
		return nil, err
	}
	j.logger.Info("Roster loaded", zap.Int("records", table.Len()))

	session, err := j.openSession(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	loop := newLoop(&cfg, newRunner(&cfg, j.logger), session, j.repo, j.logger,
		traversal.WithReportSink(j.repo),
		traversal.WithCompletionNotifier(func(_ context.Context, s *traversal.Summary) {
			fmt.Fprintf(j.out, "All pages filled (%d)\n", len(s.Reports))
		}))
	summary, err := loop.Run(ctx, table)
	printSummary(j.out, summary)
	return summary, err
}

// openSession opens a tab, navigates when a URL was given and waits for the roster form.
func (j *browserJob) openSession(ctx context.Context, cfg *config.Config) (*browser.Session, error) {
	session, err := j.manager.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	if j.url != "" {
		if err := session.Navigate(ctx, j.url); err != nil {
			session.Close()
			return nil, err
		}
	}
	found, err := session.WaitForSaveControl(ctx, cfg.Fill.ReadyTimeout)
	if err == nil && !found {
		err = fmt.Errorf("no roster form: save control did not appear within %s", cfg.Fill.ReadyTimeout)
	}
	if err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func newFillCmd() *cobra.Command {
	var (
		csvPath    string
		url        string
		auto       bool
		submitOnly bool
		nextOnly   bool
		delayMs    int
	)

	fillCmd := &cobra.Command{
		Use:   "fill",
		Short: "Fills the roster form open in the browser",
		Long: `Fills every matching row of the roster form, then submits it once.
With --auto, keeps following the next page link until the last page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if submitOnly && nextOnly {
				return errors.New("--submit-only and --next-only are mutually exclusive")
			}
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			repo, err := store.Open(ctx, cfg.Store, logger)
			if err != nil {
				return fmt.Errorf("failed to open settings store: %w", err)
			}
			defer repo.Close()

			manager := browser.NewManager(cfg.Browser, cfg.Selectors, logger)
			defer func() {
				if err := manager.Shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown incomplete", zap.Error(err))
				}
			}()

			job := &browserJob{
				cfg:     cfg,
				repo:    repo,
				manager: manager,
				url:     url,
				csvPath: csvPath,
				stdin:   cmd.InOrStdin(),
				out:     cmd.OutOrStdout(),
				logger:  logger,
			}
			if cmd.Flags().Changed("delay") {
				job.override = func(f *config.FillConfig) { f.DelayMs = delayMs }
			}

			switch {
			case submitOnly:
				return job.submitOnly(ctx)
			case nextOnly:
				return job.nextOnly(ctx)
			}

			if auto {
				if err := repo.SetAutoMode(ctx, true); err != nil {
					return fmt.Errorf("failed to enable auto mode: %w", err)
				}
			}
			_, err = job.Run(ctx)
			return err
		},
	}

	fillCmd.Flags().StringVar(&csvPath, "csv", "", "roster CSV file ('-' for stdin); defaults to the saved roster")
	fillCmd.Flags().StringVar(&url, "url", "", "roster page to open before filling")
	fillCmd.Flags().BoolVar(&auto, "auto", false, "fill every page, following the next page link")
	fillCmd.Flags().BoolVar(&submitOnly, "submit-only", false, "only click the form's Save control")
	fillCmd.Flags().BoolVar(&nextOnly, "next-only", false, "only follow the next page link")
	fillCmd.Flags().IntVar(&delayMs, "delay", 250, "pause between fields in milliseconds")
	fillCmd.Flags().Bool("verbose", true, "log every field")
	fillCmd.Flags().Bool("headless", false, "run the browser without a window")
	fillCmd.Flags().String("remote-url", "", "DevTools URL of an already running browser")
	fillCmd.Flags().Int("max-pages", 50, "stop auto mode after this many pages")
	return fillCmd
}

func (j *browserJob) submitOnly(ctx context.Context) error {
	session, err := j.openSession(ctx, j.cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	page, err := session.Page(ctx)
	if err != nil {
		return err
	}
	form, err := page.Form(ctx)
	if err != nil {
		return err
	}
	if form == nil {
		return fill.ErrFormNotFound
	}
	if err := form.Submit(ctx); err != nil {
		return fmt.Errorf("failed to submit form: %w", err)
	}
	fmt.Fprintln(j.out, "Form submitted")
	return nil
}

func (j *browserJob) nextOnly(ctx context.Context) error {
	session, err := j.manager.NewSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if j.url != "" {
		if err := session.Navigate(ctx, j.url); err != nil {
			return err
		}
	}

	next, err := session.NextPage(ctx)
	if err != nil {
		return err
	}
	if next == nil {
		fmt.Fprintln(j.out, "No next page")
		return nil
	}
	if err := next.Activate(ctx); err != nil {
		return fmt.Errorf("failed to follow next page link: %w", err)
	}
	fmt.Fprintln(j.out, "Moved to next page")
	return nil
}
