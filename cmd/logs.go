package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

// logEntry holds the fields of a JSON log line that logs prints.
type logEntry struct {
	Time    string `json:"ts"`
	Level   string `json:"level"`
	Logger  string `json:"logger"`
	Message string `json:"msg"`
}

// formatLogLine renders one JSON log line, or reports false when it is below minLevel.
// Lines that are not JSON pass through unchanged.
func formatLogLine(text string, minLevel zapcore.Level) (string, bool) {
	var entry logEntry
	if err := json.UnmarshalFromString(text, &entry); err != nil || entry.Level == "" {
		return text, true
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(entry.Level))); err == nil && level < minLevel {
		return "", false
	}
	return fmt.Sprintf("%s %-5s %s %s", entry.Time, entry.Level, entry.Logger, entry.Message), true
}

func newLogsCmd() *cobra.Command {
	var (
		follow    bool
		fromStart bool
		minLevel  string
	)
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the rotated log file, optionally following it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if cfg.Logger.LogFile == "" {
				return errors.New("no log file configured: set logger.log_file")
			}
			var level zapcore.Level
			if err := level.UnmarshalText([]byte(minLevel)); err != nil {
				return fmt.Errorf("invalid --level: %w", err)
			}

			whence := io.SeekEnd
			if fromStart || !follow {
				whence = io.SeekStart
			}
			t, err := tail.TailFile(cfg.Logger.LogFile, tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to tail log file: %w", err)
			}
			defer t.Cleanup()
			defer t.Stop()

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return nil
					}
					if line.Err != nil {
						return fmt.Errorf("error reading log file: %w", line.Err)
					}
					if text, keep := formatLogLine(line.Text, level); keep {
						fmt.Fprintln(out, text)
					}
				}
			}
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	logsCmd.Flags().BoolVar(&fromStart, "from-start", false, "when following, start at the beginning of the file")
	logsCmd.Flags().StringVar(&minLevel, "level", "debug", "lowest level to print")
	return logsCmd
}
