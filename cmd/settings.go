package cmd

import (
	"context"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/store"
)

// withRepository opens the configured store for the duration of fn.
func withRepository(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, repo store.Repository) error) error {
	ctx := cmd.Context()
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	repo, err := store.Open(ctx, cfg.Store, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer repo.Close()
	return fn(ctx, cfg, repo)
}

func newSettingsCmd() *cobra.Command {
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Shows or changes the saved roster and fill settings",
	}
	settingsCmd.AddCommand(newSettingsShowCmd(), newSettingsSetCmd(), newSettingsClearCmd())
	return settingsCmd
}

func newSettingsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Prints the saved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, func(ctx context.Context, _ *config.Config, repo store.Repository) error {
				saved, err := repo.Settings(ctx)
				if errors.Is(err, store.ErrNoSettings) {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved settings")
					return nil
				}
				if err != nil {
					return err
				}
				b, err := json.MarshalIndent(saved, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	var (
		csvPath string
		delayMs int
		verbose bool
		auto    bool
	)
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Saves a roster and fill settings",
		Long: `Saves the given values. Unset flags keep their saved value; a knob that was
never saved follows the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, func(ctx context.Context, cfg *config.Config, repo store.Repository) error {
				saved, err := repo.Settings(ctx)
				if errors.Is(err, store.ErrNoSettings) {
					saved = store.Settings{AutoMode: cfg.Fill.AutoMode}
				} else if err != nil {
					return err
				}

				flags := cmd.Flags()
				if flags.Changed("csv") {
					raw, err := readCSV(csvPath, cmd.InOrStdin())
					if err != nil {
						return err
					}
					table, err := parseRoster(cfg, raw, observability.GetLogger())
					if err != nil {
						return err
					}
					saved.CSV = raw
					fmt.Fprintf(cmd.OutOrStdout(), "Roster saved: %d record(s)\n", table.Len())
				}
				if flags.Changed("delay") {
					if delayMs < 0 {
						return errors.New("--delay must be zero or greater")
					}
					delay := delayMs
					saved.DelayMs = &delay
				}
				if flags.Changed("verbose") {
					v := verbose
					saved.Verbose = &v
				}
				if flags.Changed("auto") {
					saved.AutoMode = auto
				}
				return repo.SaveSettings(ctx, saved)
			})
		},
	}
	setCmd.Flags().StringVar(&csvPath, "csv", "", "roster CSV file ('-' for stdin)")
	setCmd.Flags().IntVar(&delayMs, "delay", 250, "pause between fields in milliseconds")
	setCmd.Flags().BoolVar(&verbose, "verbose", true, "log every field")
	setCmd.Flags().BoolVar(&auto, "auto", false, "fill every page on the next run")
	return setCmd
}

func newSettingsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Erases the saved roster, settings and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, func(ctx context.Context, _ *config.Config, repo store.Repository) error {
				if err := repo.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Saved settings cleared")
				return nil
			})
		},
	}
}
