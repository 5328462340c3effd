package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rosterfill/internal/browser"
	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/store"
	"github.com/xkilldash9x/rosterfill/internal/trigger"
)

func newServeCmd() *cobra.Command {
	var url string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the local command endpoint",
		Long: `Starts an HTTP endpoint on the trigger address. POST /api/v1/command accepts
start_filling, store_csv, clear_storage and ping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			job := &browserJob{
				cfg:     cfg,
				repo:    repo,
				manager: manager,
				url:     url,
				out:     cmd.OutOrStdout(),
				logger:  logger,
			}
			server := trigger.NewServer(cfg.Trigger, job.Run, repo, logger,
				trigger.WithParserOptions(rosterParserOptions(cfg, logger)...))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.Serve(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				// Closing the tabs unblocks any fill still running.
				if err := manager.Shutdown(context.Background()); err != nil {
					logger.Warn("Browser shutdown incomplete", zap.Error(err))
				}
				return nil
			})
			return g.Wait()
		},
	}

	serveCmd.Flags().StringVar(&url, "url", "", "roster page each fill opens")
	serveCmd.Flags().String("addr", "127.0.0.1:8765", "listen address")
	serveCmd.Flags().Bool("headless", false, "run the browser without a window")
	serveCmd.Flags().String("remote-url", "", "DevTools URL of an already running browser")
	return serveCmd
}
