package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/observability"
	"github.com/3leaps/tomd/pkg/report"
)

var reportCmd = &cobra.Command{
	Use:   "report JOURNAL",
	Short: "Rebuild a job report from its journal",
	Long: `Rebuild the JSON report of a job from its outcome journal.

Every convert run (except --dry-run) journals outcomes to
STATE_DIR/journal-<job id>.jsonl as they happen. When a job was killed
before it could write its report, this recovers everything it finished.

Examples:
  tomd report ./docs/md_output/.tomd/journal-1b4e28ba.jsonl
  tomd report journal.jsonl --failures
  tomd report journal.jsonl --output report.json`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var (
	reportOutput   string
	reportFailures bool
)

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Write the report to this file instead of stdout")
	reportCmd.Flags().BoolVar(&reportFailures, "failures", false, "List failed files instead of printing JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot open journal", err)
	}
	defer func() { _ = f.Close() }()

	rep, err := report.FromJournal(f)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot read journal", err)
	}
	observability.CLILogger.Debug("Rebuilt report",
		zap.String("journal", path),
		zap.String("job_id", rep.JobID),
		zap.Int("results", len(rep.Results)))

	if reportFailures {
		printFailures(cmd.OutOrStdout(), rep)
		return nil
	}

	data, err := rep.Marshal()
	if err != nil {
		return err
	}
	if reportOutput == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(reportOutput, append(data, '\n'), 0o644); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot write report", err)
	}
	observability.CLILogger.Info("Report written", zap.String("path", reportOutput))
	return nil
}

func printFailures(w io.Writer, rep *report.Report) {
	failures := rep.Failures()
	if len(failures) == 0 {
		fmt.Fprintln(w, "No failures.")
		return
	}
	for _, e := range failures {
		fmt.Fprintf(w, "%-20s %s\n", e.Kind, e.RelativePath)
		if e.Message != "" {
			fmt.Fprintf(w, "%-20s   %s\n", "", e.Message)
		}
	}
	fmt.Fprintf(w, "\n%d of %d files failed\n", len(failures), rep.Summary.Total)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
