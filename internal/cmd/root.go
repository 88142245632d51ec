// Package cmd implements the tomd command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/observability"
)

const appName = "tomd"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Convert document trees to Markdown",
	Long: `tomd walks a source directory, converts every matching file to Markdown
with a bounded worker pool, and writes the results to a mirrored tree on
local disk or S3.

Progress is checkpointed, so an interrupted job resumes where it stopped.

Examples:
  tomd convert ./docs
  tomd convert ./docs ./out --file-types pdf,docx --threads 8
  tomd convert ./docs s3://bucket/markdown --backend http --endpoint http://localhost:9000/convert
  tomd report ./docs/md_output/.tomd/journal-<id>.jsonl`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitCLILogger(appName, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// SetVersionInfo records build metadata.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	code := ExitCode(err)
	var ee *exitErr
	if errors.As(err, &ee) && ee.quiet {
		return code
	}
	if loggerReady() {
		observability.CLILogger.Error("Command failed", zap.Error(err), zap.Int("exit_code", code))
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return code
}

// loggerReady is false when cobra failed before any command ran (unknown
// flag, bad args) and the CLI logger is still the no-op default.
func loggerReady() bool {
	return observability.CLILogger != nil && observability.CLILogger.Core().Enabled(zap.ErrorLevel)
}
