package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rosterfill/internal/config"
	"github.com/xkilldash9x/rosterfill/internal/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Lists recent fill passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, func(ctx context.Context, _ *config.Config, repo store.Repository) error {
				reports, err := repo.Reports(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					b, err := json.MarshalIndent(reports, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
					return nil
				}
				if len(reports) == 0 {
					fmt.Fprintln(out, "No passes recorded")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tPAGE\tOUTCOME\tMATCHED\tFIELDS\tFAILURES")
				for _, r := range reports {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%d/%d\t%d\t%d\n",
						r.StartedAt.Local().Format(time.DateTime), r.Page, r.Outcome,
						r.Result.RowsMatched, r.Result.RowsSeen, r.Result.FieldsFilled, len(r.Result.Failures))
				}
				return tw.Flush()
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of passes to show (0 for all)")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "print full reports as JSON")
	return historyCmd
}
