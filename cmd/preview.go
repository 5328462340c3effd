package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rosterfill/internal/htmldoc"
	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/store"
)

func newPreviewCmd() *cobra.Command {
	var (
		csvPath   string
		auto      bool
		renderDir string
	)

	previewCmd := &cobra.Command{
		Use:   "preview <page.html>",
		Short: "Dry runs a fill against saved roster pages",
		Long: `Parses a saved roster page, fills it in memory and prints what would have been
submitted. With --auto, follows next page links to other saved files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("preview")

			run := *cfg
			var raw string
			if csvPath != "" {
				if raw, err = readCSV(csvPath, cmd.InOrStdin()); err != nil {
					return err
				}
			} else {
				repo, err := store.Open(ctx, cfg.Store, logger)
				if err != nil {
					return fmt.Errorf("failed to open settings store: %w", err)
				}
				raw, err = loadSettings(ctx, &run, repo)
				repo.Close()
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(raw) == "" {
				return errNoRoster
			}
			table, err := parseRoster(&run, raw, logger)
			if err != nil {
				return err
			}

			// Nothing to wait for in memory.
			run.Fill.DelayMs = 0
			run.Fill.SubmitDelay = 0
			run.Fill.PageSettleDelay = 0

			pager, err := htmldoc.OpenPager(ctx, htmldoc.DirLoader{}, args[0], run.Selectors, logger)
			if err != nil {
				return err
			}
			defer pager.Close()

			out := cmd.OutOrStdout()
			loop := newLoop(&run, newRunner(&run, logger), pager, &memoryFlags{auto: auto}, logger)
			summary, runErr := loop.Run(ctx, table)
			printSummary(out, summary)

			for i, doc := range pager.Documents() {
				fmt.Fprintf(out, "\npage %d: %d submission(s), %d blocked\n", i+1, len(doc.Submissions()), doc.BlockedSubmits())
				for _, row := range doc.State() {
					fmt.Fprintf(out, "  %-24s %v\n", row.Name, row.Values)
				}
				if renderDir != "" {
					if err := writeRendered(renderDir, i+1, doc); err != nil {
						logger.Warn("Failed to write rendered page", zap.Error(err))
					}
				}
			}
			return runErr
		},
	}

	previewCmd.Flags().StringVar(&csvPath, "csv", "", "roster CSV file ('-' for stdin); defaults to the saved roster")
	previewCmd.Flags().BoolVar(&auto, "auto", false, "follow next page links")
	previewCmd.Flags().StringVar(&renderDir, "render-dir", "", "write each filled page as HTML into this directory")
	return previewCmd
}

func writeRendered(dir string, pageNo int, doc *htmldoc.Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("page-%03d.html", pageNo)))
	if err != nil {
		return err
	}
	if err := doc.Render(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
