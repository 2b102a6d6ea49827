// File: cmd/logs.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/gobwas/glob"
	"github.com/hpcloud/tail"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
)

// logOptions filter the log output.
type logOptions struct {
	Lines   int
	Follow  bool
	Session string
	Match   string
}

// newLogsCmd creates and configures the `logs` command.
func newLogsCmd() *cobra.Command {
	var opts logOptions
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Prints the application log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Logger().LogFile == "" {
				return fmt.Errorf("logger.log_file is not configured")
			}
			path, err := homedir.Expand(cfg.Logger().LogFile)
			if err != nil {
				return fmt.Errorf("failed to expand log file path: %w", err)
			}
			return printLogs(cmd.Context(), path, opts, cmd.OutOrStdout())
		},
	}

	logsCmd.Flags().IntVarP(&opts.Lines, "lines", "n", 50, "Number of trailing lines to print (0 for all)")
	logsCmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false, "Keep printing new lines as they are written")
	logsCmd.Flags().StringVarP(&opts.Session, "session", "s", "", "Only lines mentioning this session id")
	logsCmd.Flags().StringVarP(&opts.Match, "match", "m", "", "Only lines matching this glob, e.g. '*confirmation*'")
	return logsCmd
}

// lineFilter builds the predicate for opts.
func lineFilter(opts logOptions) (func(string) bool, error) {
	var patterns []glob.Glob
	if opts.Session != "" {
		g, err := glob.Compile("*" + opts.Session + "*")
		if err != nil {
			return nil, fmt.Errorf("invalid session id: %w", err)
		}
		patterns = append(patterns, g)
	}
	if opts.Match != "" {
		g, err := glob.Compile(opts.Match)
		if err != nil {
			return nil, fmt.Errorf("invalid --match pattern: %w", err)
		}
		patterns = append(patterns, g)
	}
	return func(line string) bool {
		for _, g := range patterns {
			if !g.Match(line) {
				return false
			}
		}
		return true
	}, nil
}

// printLogs prints the last opts.Lines matching lines, then follows the file
// until ctx is done when opts.Follow is set.
func printLogs(ctx context.Context, path string, opts logOptions, out io.Writer) error {
	keep, err := lineFilter(opts)
	if err != nil {
		return err
	}

	t, err := tail.TailFile(path, tail.Config{
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	var ring []string
	for line := range t.Lines {
		if line.Err != nil || !keep(line.Text) {
			continue
		}
		ring = append(ring, line.Text)
		if opts.Lines > 0 && len(ring) > opts.Lines {
			ring = ring[1:]
		}
	}
	t.Cleanup()
	for _, l := range ring {
		fmt.Fprintln(out, l)
	}

	if !opts.Follow {
		return nil
	}

	ft, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow log file: %w", err)
	}
	defer func() {
		ft.Stop()
		ft.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-ft.Lines:
			if !ok {
				return ft.Err()
			}
			if line.Err != nil || !keep(line.Text) {
				continue
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
