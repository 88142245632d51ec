package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/observability"
	"github.com/3leaps/tomd/pkg/batch"
	"github.com/3leaps/tomd/pkg/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or reset a job checkpoint",
	Long: `Inspect or reset the checkpoint that lets convert resume.

The checkpoint is located by --checkpoint, or derived from a local TARGET
directory as TARGET/.tomd/checkpoint.json.

Examples:
  tomd checkpoint show ./docs/md_output
  tomd checkpoint show --checkpoint /var/lib/tomd/checkpoint.json --json
  tomd checkpoint clear ./docs/md_output`,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show [TARGET]",
	Short: "Print checkpoint counts",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear [TARGET]",
	Short: "Delete the checkpoint so the next run starts fresh",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointClear,
}

var (
	checkpointPath string
	checkpointJSON bool
)

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)

	checkpointCmd.PersistentFlags().StringVar(&checkpointPath, "checkpoint", "", "Checkpoint file")
	checkpointShowCmd.Flags().BoolVar(&checkpointJSON, "json", false, "Print the checkpoint file as JSON")
}

// checkpointFile resolves the checkpoint path from the flag or TARGET.
func checkpointFile(args []string) (string, error) {
	switch {
	case checkpointPath != "":
		return checkpointPath, nil
	case len(args) == 1:
		return filepath.Join(args[0], batch.StateDirName, batch.CheckpointFile), nil
	default:
		return "", fmt.Errorf("pass TARGET or --checkpoint")
	}
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	path, err := checkpointFile(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No checkpoint given", err)
	}

	rec, err := checkpoint.NewStore(path).Load()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unusable checkpoint", err)
	}
	if rec == nil {
		return exitError(foundry.ExitFileNotFound, "No checkpoint", fmt.Errorf("%s does not exist", path))
	}

	out := cmd.OutOrStdout()
	if checkpointJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintf(out, "Checkpoint:  %s\n", path)
	fmt.Fprintf(out, "Saved:       %s\n", rec.Time().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Completed:   %d\n", len(rec.Completed))
	fmt.Fprintf(out, "Pending:     %d\n", len(rec.Pending))
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	path, err := checkpointFile(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "No checkpoint given", err)
	}
	if err := checkpoint.NewStore(path).Clear(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot clear checkpoint", err)
	}
	observability.CLILogger.Info("Checkpoint cleared", zap.String("path", path))
	return nil
}
