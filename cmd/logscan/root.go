package main

import (
	"fmt"
	"io"

	"logscan/internal/config"

	"github.com/spf13/cobra"
)

// version 은 빌드 시 -ldflags "-X main.version=..." 로 덮어쓴다.
var version = "dev"

// usageError 는 종료 코드 2 로 처리되는 인자/flag 오류.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// newRootCmd 는 cfg 에 flag 를 바인딩한다.
// flag 기본값은 환경변수로 읽은 값이므로, 명시한 flag 만 환경변수를 덮어쓴다.
func newRootCmd(cfg *config.Config, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logscan [flags] <rules_dir> <log_dir>",
		Short: "Scan JSON and gzip log files with Sigma rules",
		Long: `logscan walks <log_dir> for *.json and *.gz files, extracts events from
JSON arrays or {"Records": [...]} envelopes and evaluates every event against
the Sigma rules in <rules_dir>. Each matching event is written to stdout as one
JSON line. Logs and the run summary go to stderr.

Every flag can also be set with a LOGSCAN_* environment variable.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 2 {
				return &usageError{msg: fmt.Sprintf("expected <rules_dir> and <log_dir>, got %d argument(s)", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return &usageError{msg: err.Error()}
			}
			return scan(cmd.Context(), *cfg, args[0], args[1], stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	f := cmd.Flags()
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "number of matcher goroutines (>1 does not keep report order)")
	f.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "events buffered between loader and matchers")
	f.DurationVar(&cfg.MatchTimeout, "match-timeout", cfg.MatchTimeout, "per-event match timeout (0 = none)")
	f.IntVar(&cfg.MaxDepth, "max-depth", cfg.MaxDepth, "maximum directory depth below <log_dir> (0 = unlimited)")
	f.BoolVar(&cfg.FollowSymlinks, "follow-symlinks", cfg.FollowSymlinks, "follow symlinked directories")
	f.Int64Var(&cfg.MaxFileBytes, "max-file-bytes", cfg.MaxFileBytes, "skip files larger than this after decompression (0 = unlimited)")
	f.BoolVar(&cfg.ReportPretty, "pretty", cfg.ReportPretty, "indent JSON reports")
	f.BoolVar(&cfg.ReportIncludeEvent, "include-event", cfg.ReportIncludeEvent, "embed the matched event in each report")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	f.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "human readable logs instead of JSON")
	f.StringVar(&cfg.Report.Bucket, "s3-bucket", cfg.Report.Bucket, "also upload reports to this S3 bucket")
	f.StringVar(&cfg.Report.Prefix, "s3-prefix", cfg.Report.Prefix, "S3 key prefix for uploaded reports")
	f.StringVar(&cfg.Report.Region, "s3-region", cfg.Report.Region, "AWS region for report uploads")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the logscan version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "logscan", version)
		},
	})
	return cmd
}
