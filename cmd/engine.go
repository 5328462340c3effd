package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/control"
	"github.com/xkilldash9x/rosterfill/internal/fill"
	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/record"
	"github.com/xkilldash9x/rosterfill/internal/store"
	"github.com/xkilldash9x/rosterfill/internal/traversal"
)

// errNoRoster means neither --csv nor the saved settings supplied roster text.
var errNoRoster = errors.New("no roster: pass --csv or save one with 'rosterfill settings set --csv'")

// newRunner wires resolver, orchestrator and gate from cfg.
func newRunner(cfg *config.Config, logger *zap.Logger) *fill.Runner {
	engineLogger := observability.EngineLogger(logger, cfg.Fill.Verbose)
	resolver := control.NewResolver(control.ResolverConfig{
		MaxAttempts:   cfg.Fill.DropdownMaxAttempts,
		RetryDelay:    cfg.Fill.DropdownRetryDelay,
		SearchTimeout: cfg.Fill.SearchTimeout,
		NoSelection:   cfg.Columns.NoSelection,
	}, engineLogger)
	columns := fill.Columns{
		Type:          cfg.Columns.Type,
		PricingGroup:  cfg.Columns.PricingGroup,
		PricingOption: cfg.Columns.PricingOption,
		Discount:      cfg.Columns.Discount,
	}
	orch := fill.NewOrchestrator(resolver, columns, cfg.Fill.FieldDelay(), engineLogger)
	return fill.NewRunner(orch, fill.RunnerConfig{SubmitDelay: cfg.Fill.SubmitDelay}, engineLogger)
}

func newLoop(cfg *config.Config, runner *fill.Runner, b traversal.Browser, flags traversal.FlagStore, logger *zap.Logger, opts ...traversal.Option) *traversal.Loop {
	return traversal.New(traversal.Config{
		SettleDelay:  cfg.Fill.PageSettleDelay,
		ReadyTimeout: cfg.Fill.ReadyTimeout,
		MaxPages:     cfg.Fill.MaxPages,
	}, runner, b, flags, logger, opts...)
}

func rosterParserOptions(cfg *config.Config, logger *zap.Logger) []record.Option {
	return []record.Option{record.WithNameColumn(cfg.Columns.Name), record.WithLogger(logger)}
}

// parseRoster parses raw with the configured name column.
func parseRoster(cfg *config.Config, raw string, logger *zap.Logger) (*record.Table, error) {
	return record.Parse(raw, rosterParserOptions(cfg, logger)...)
}

// readCSV reads a roster file; "-" is stdin.
func readCSV(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read roster from stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read roster: %w", err)
	}
	return string(b), nil
}

// loadSettings overlays the saved settings onto cfg and returns the saved roster text.
func loadSettings(ctx context.Context, cfg *config.Config, repo store.Repository) (string, error) {
	saved, err := repo.Settings(ctx)
	if errors.Is(err, store.ErrNoSettings) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load settings: %w", err)
	}
	saved.Apply(&cfg.Fill)
	return saved.CSV, nil
}

// printSummary writes the per-pass summaries of a run.
func printSummary(w io.Writer, summary *traversal.Summary) {
	if summary == nil {
		return
	}
	for _, rep := range summary.Reports {
		fmt.Fprintf(w, "page %d: %s\n", rep.Page, rep.Summary())
	}
	if summary.AutoMode && summary.Completed {
		fmt.Fprintf(w, "auto mode finished after %d page(s)\n", len(summary.Reports))
	}
}

// memoryFlags keeps the auto-mode flag in memory, for dry runs.
type memoryFlags struct{ auto bool }

func (m *memoryFlags) AutoMode(context.Context) (bool, error) { return m.auto, nil }

func (m *memoryFlags) SetAutoMode(_ context.Context, enabled bool) error {
	m.auto = enabled
	return nil
}
