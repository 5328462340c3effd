package cmd

import (
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/rosterfill/internal/observability"
	"github.com/xkilldash9x/rosterfill/internal/record"
)

// parsedRoster is the JSON shape printed by parse.
type parsedRoster struct {
	Header  []string                     `json:"header"`
	Stats   record.Stats                 `json:"stats"`
	Records map[string]map[string]string `json:"records"`
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file.csv|->",
		Short: "Parses a roster CSV and prints the keyed records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			raw, err := readCSV(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			table, err := parseRoster(cfg, raw, observability.GetLogger())
			if err != nil {
				return err
			}

			out := parsedRoster{
				Header:  table.Header(),
				Stats:   table.Stats(),
				Records: make(map[string]map[string]string, table.Len()),
			}
			for _, key := range table.Keys() {
				rec, _ := table.Lookup(key)
				out.Records[key] = rec.Fields()
			}

			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode roster: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
