package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/config"
	"github.com/3leaps/tomd/internal/observability"
	"github.com/3leaps/tomd/pkg/batch"
	"github.com/3leaps/tomd/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List past and running conversion jobs",
	Long: `Every convert run (except --dry-run) is recorded in the run history
under the app data directory, or jobs.dir in the config file.

Examples:
  tomd jobs list
  tomd jobs show 1b4e28ba
  tomd jobs prune --keep 10`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show JOB_ID",
	Short: "Print a job record as JSON (unique ID prefixes work)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old finished job records",
	Args:  cobra.NoArgs,
	RunE:  runJobsPrune,
}

var jobsKeep int

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsPruneCmd)

	jobsPruneCmd.Flags().IntVar(&jobsKeep, "keep", config.DefaultJobsKeep, "Finished jobs to keep")
}

// registryDir returns the run history directory.
func registryDir(cfg *config.Config) string {
	if cfg != nil && cfg.Jobs.Dir != "" {
		return cfg.Jobs.Dir
	}
	return filepath.Join(gfconfig.GetAppDataDir(batch.AppName), "runs")
}

func openRegistry(ctx context.Context) (*jobregistry.Store, error) {
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return jobregistry.NewStore(registryDir(cfg)), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	store, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	jobs, err := store.List()
	if err != nil {
		return exitError(foundry.ExitFileNotFound, "Cannot read job history", err)
	}
	printJobs(cmd.OutOrStdout(), jobs)
	return nil
}

func printJobs(w io.Writer, jobs []jobregistry.JobRecord) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tSTARTED\tOK\tFAILED\tSKIPPED\tTARGET")
	for _, j := range jobs {
		started := "-"
		if j.StartedAt != nil {
			started = j.StartedAt.Local().Format("2006-01-02 15:04")
		}
		ok, failed, skipped := "-", "-", "-"
		if j.Counts != nil {
			ok = fmt.Sprint(j.Counts.Success)
			failed = fmt.Sprint(j.Counts.Failure)
			skipped = fmt.Sprint(j.Counts.Skipped)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", shortID(j.JobID), j.State, started, ok, failed, skipped, j.Target)
	}
	_ = tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	rec, err := store.Find(args[0])
	if err != nil {
		if errors.Is(err, jobregistry.ErrNotFound) {
			return exitError(foundry.ExitFileNotFound, "Unknown job", err)
		}
		return exitError(foundry.ExitInvalidArgument, "Cannot resolve job", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runJobsPrune(cmd *cobra.Command, args []string) error {
	if jobsKeep < 1 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --keep", fmt.Errorf("keep must be at least 1, got %d", jobsKeep))
	}
	store, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	removed, err := store.Prune(jobsKeep)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Cannot prune job history", err)
	}
	observability.CLILogger.Info("Pruned job history", zap.Int("removed", removed), zap.Int("kept", jobsKeep))
	return nil
}

// jobRecorder keeps the run history entry of one convert invocation. A
// failing registry never fails the job; problems are logged.
type jobRecorder struct {
	store *jobregistry.Store
	keep  int
	rec   *jobregistry.JobRecord
	log   *zap.Logger
}

func startJobRecord(cfg *config.Config, opts batch.Options, logPath string, log *zap.Logger) *jobRecorder {
	now := time.Now().UTC()
	r := &jobRecorder{
		store: jobregistry.NewStore(registryDir(cfg)),
		keep:  cfg.Jobs.Keep,
		log:   log,
		rec: &jobregistry.JobRecord{
			JobID:          opts.JobID,
			State:          jobregistry.JobStateRunning,
			Source:         opts.Source,
			Target:         opts.Target,
			Backend:        cfg.Convert.Backend,
			PID:            os.Getpid(),
			StateDir:       opts.StateDir,
			CheckpointPath: opts.CheckpointPath,
			LogPath:        logPath,
			CreatedAt:      now,
			StartedAt:      &now,
		},
	}
	r.write()
	return r
}

func (r *jobRecorder) write() {
	if err := r.store.Write(r.rec); err != nil {
		r.log.Warn("Cannot update job history", zap.String("dir", r.store.RootDir()), zap.Error(err))
	}
}

// finish records the final state of the run and prunes old entries.
func (r *jobRecorder) finish(res *batch.Result, runErr error) {
	state := jobState(res, runErr)
	if runErr != nil {
		r.rec.Error = runErr.Error()
	}
	if res != nil {
		r.rec.JournalPath = res.JournalPath
		r.rec.ReportLocation = res.ReportLocation
		r.rec.Counts = &jobregistry.Counts{Scanned: res.Scanned, Resumed: res.Resumed}
		if res.Report != nil {
			s := res.Report.Summary
			r.rec.Counts.Total = s.Total
			r.rec.Counts.Success = s.Success
			r.rec.Counts.Failure = s.Failure
			r.rec.Counts.Skipped = s.Skipped
			r.rec.Counts.Pending = s.Pending
		}
	}
	r.rec.Finish(state, time.Now())
	r.write()

	if r.keep > 0 {
		if _, err := r.store.Prune(r.keep); err != nil {
			r.log.Debug("Cannot prune job history", zap.Error(err))
		}
	}
}

func jobState(res *batch.Result, runErr error) jobregistry.JobState {
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		return jobregistry.JobStateInterrupted
	case runErr != nil:
		return jobregistry.JobStateFailed
	case res != nil && res.Failed() > 0:
		return jobregistry.JobStatePartial
	default:
		return jobregistry.JobStateSuccess
	}
}
