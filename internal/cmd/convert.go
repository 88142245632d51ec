package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/tomd/internal/config"
	"github.com/3leaps/tomd/internal/observability"
	"github.com/3leaps/tomd/internal/server"
	"github.com/3leaps/tomd/internal/server/handlers"
	"github.com/3leaps/tomd/pkg/batch"
	"github.com/3leaps/tomd/pkg/convert"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/match"
	"github.com/3leaps/tomd/pkg/scheduler"
)

var convertCmd = &cobra.Command{
	Use:   "convert SOURCE [TARGET]",
	Short: "Convert a directory tree to Markdown",
	Long: `Convert every matching file under SOURCE to Markdown.

TARGET defaults to SOURCE/md_output and may be a local directory or an
s3://bucket/prefix URI. Outputs mirror the source layout with a .md
extension. A checkpoint under the state directory records completed files;
rerunning the same command resumes where the last run stopped.

Backends:
  builtin   text-like formats converted in-process (see 'tomd formats')
  http      builtin formats in-process, everything else posted to --endpoint
  simulate  builtin formats in-process, everything else stubbed

Exit codes: 0 all files converted or skipped, 1 some files failed,
other non-zero codes for invalid configuration, unwritable output or
interruption.

Examples:
  tomd convert ./docs
  tomd convert ./docs ./out --file-types pdf,docx --threads 8
  tomd convert ./docs --dry-run
  tomd convert ./docs s3://bucket/md --backend http --endpoint http://localhost:9000/convert`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runConvert,
}

var (
	convertRecursive     bool
	convertFileTypes     []string
	convertIncludes      []string
	convertExcludes      []string
	convertIncludeHidden bool
	convertIgnoreFile    string
	convertMaxFileSize   string
	convertThreads       int
	convertTimeout       time.Duration
	convertBackend       string
	convertEndpoint      string
	convertRateLimit     float64
	convertOrder         string
	convertOverwrite     bool
	convertDryRun        bool
	convertCheckpoint    string
	convertStateDir      string
	convertNoResume      bool
	convertNoLogFile     bool
	convertStatusAddr    string
	convertS3Region      string
	convertS3Endpoint    string
	convertS3Profile     string
	convertS3PathStyle   bool
)

func init() {
	rootCmd.AddCommand(convertCmd)

	def := scheduler.DefaultConfig()
	f := convertCmd.Flags()
	f.BoolVarP(&convertRecursive, "recursive", "r", true, "Descend into subdirectories")
	f.StringSliceVarP(&convertFileTypes, "file-types", "t", nil, "Comma-separated extensions to convert, e.g. pdf,docx (default all)")
	f.StringArrayVar(&convertIncludes, "include", nil, "Only convert paths matching this glob (repeatable)")
	f.StringArrayVar(&convertExcludes, "exclude", nil, "Skip paths matching this glob (repeatable)")
	f.BoolVar(&convertIncludeHidden, "include-hidden", false, "Include dot files and directories")
	f.StringVar(&convertIgnoreFile, "ignore-file", "", "Gitignore-style file (default SOURCE/"+match.DefaultIgnoreFile+")")
	f.StringVar(&convertMaxFileSize, "max-file-size", "", "Skip files larger than this, e.g. 20MB")
	f.IntVarP(&convertThreads, "threads", "n", def.Concurrency, "Concurrent conversions")
	f.DurationVar(&convertTimeout, "timeout", def.TaskTimeout, "Per-file conversion timeout")
	f.StringVar(&convertBackend, "backend", config.BackendBuiltin, "Conversion backend (builtin|http|simulate)")
	f.StringVar(&convertEndpoint, "endpoint", "", "Conversion service URL for --backend http")
	f.Float64Var(&convertRateLimit, "rate-limit", 0, "Max conversions started per second (0 = unlimited)")
	f.StringVar(&convertOrder, "order", def.Order, "Dispatch order (size|scan)")
	f.BoolVar(&convertOverwrite, "overwrite", false, "Replace existing output files")
	f.BoolVar(&convertDryRun, "dry-run", false, "Scan and plan without converting or writing anything")
	f.StringVar(&convertCheckpoint, "checkpoint", "", "Checkpoint file (default STATE_DIR/"+batch.CheckpointFile+")")
	f.StringVar(&convertStateDir, "state-dir", "", "Directory for checkpoint, journal and logs (default TARGET/"+batch.StateDirName+")")
	f.BoolVar(&convertNoResume, "no-resume", false, "Ignore an existing checkpoint")
	f.BoolVar(&convertNoLogFile, "no-log-file", false, "Do not write a log file under the state directory")
	f.StringVar(&convertStatusAddr, "status-addr", "", "Serve job status on host:port while running")
	f.StringVar(&convertS3Region, "s3-region", "", "AWS region for s3:// targets")
	f.StringVar(&convertS3Endpoint, "s3-endpoint", "", "Custom S3 endpoint (MinIO, Wasabi, ...)")
	f.StringVar(&convertS3Profile, "s3-profile", "", "AWS shared config profile")
	f.BoolVar(&convertS3PathStyle, "s3-path-style", false, "Use path-style S3 addressing")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx, cfgFile, convertOverrides(cmd, args))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if cfg.Logging.Verbose && !verbose {
		observability.InitCLILogger(appName, true)
	}

	opts, err := cfg.BatchOptions()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	opts, err = opts.Resolve()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	var logPath string
	if cfg.Logging.File && !opts.DryRun {
		logPath = logFilePath(opts.StateDir, time.Now())
		closeLog, err := observability.AttachLogFile(logPath)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Cannot create log file", err)
		}
		defer closeLog()
	}
	log := observability.CLILogger

	var history *jobRecorder
	if !opts.DryRun {
		history = startJobRecord(cfg, opts, logPath, log)
	}

	live := &liveJob{id: opts.JobID}
	if cfg.Status.Addr != "" {
		srv, err := startStatusServer(ctx, cfg.Status.Addr, live, log)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Cannot start status server", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info("Starting conversion",
		zap.String("job_id", opts.JobID),
		zap.String("source", opts.Source),
		zap.String("target", opts.Target),
		zap.String("backend", cfg.Convert.Backend),
		zap.Int("threads", opts.Threads),
		zap.Bool("dry_run", opts.DryRun))

	res, runErr := batch.Run(ctx, opts, batch.Deps{
		Adapter:     adapter,
		Logger:      log,
		OnScheduler: live.attach,
	})
	if history != nil {
		history.finish(res, runErr)
	}
	if res != nil {
		printSummary(cmd.OutOrStdout(), res)
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		log.Warn("Conversion interrupted; rerun the same command to resume",
			zap.String("checkpoint", opts.CheckpointPath))
		return exitError(foundry.ExitSignalInt, "Conversion interrupted", runErr)
	case runErr != nil:
		return exitError(classify(runErr), "Conversion failed", runErr)
	case res.Failed() > 0:
		log.Warn("Some files failed to convert",
			zap.Int("failed", res.Failed()),
			zap.String("report", res.ReportLocation))
		return quietExit(exitFilesFailed)
	}

	log.Info("Conversion complete", zap.String("job_id", res.JobID))
	return nil
}

// convertOverrides turns positional arguments and explicitly set flags into
// config overrides, so unset flags never mask file or environment values.
func convertOverrides(cmd *cobra.Command, args []string) map[string]any {
	flags := cmd.Flags()
	out := map[string]any{}
	if len(args) > 0 {
		out["source"] = args[0]
	}
	if len(args) > 1 {
		out["target"] = args[1]
	}

	bind := []struct {
		flag string
		key  string
		val  func() any
	}{
		{"recursive", "scan.recursive", func() any { return convertRecursive }},
		{"file-types", "scan.file_types", func() any { return convertFileTypes }},
		{"include", "scan.includes", func() any { return convertIncludes }},
		{"exclude", "scan.excludes", func() any { return convertExcludes }},
		{"include-hidden", "scan.include_hidden", func() any { return convertIncludeHidden }},
		{"ignore-file", "scan.ignore_file", func() any { return convertIgnoreFile }},
		{"max-file-size", "scan.max_file_size", func() any { return convertMaxFileSize }},
		{"threads", "convert.threads", func() any { return convertThreads }},
		{"timeout", "convert.timeout", func() any { return convertTimeout.String() }},
		{"backend", "convert.backend", func() any { return convertBackend }},
		{"endpoint", "convert.endpoint", func() any { return convertEndpoint }},
		{"rate-limit", "convert.rate_limit", func() any { return convertRateLimit }},
		{"order", "convert.order", func() any { return convertOrder }},
		{"overwrite", "convert.overwrite", func() any { return convertOverwrite }},
		{"dry-run", "convert.dry_run", func() any { return convertDryRun }},
		{"checkpoint", "checkpoint.path", func() any { return convertCheckpoint }},
		{"state-dir", "checkpoint.state_dir", func() any { return convertStateDir }},
		{"no-resume", "checkpoint.resume", func() any { return !convertNoResume }},
		{"no-log-file", "logging.file", func() any { return !convertNoLogFile }},
		{"status-addr", "status.addr", func() any { return convertStatusAddr }},
		{"s3-region", "s3.region", func() any { return convertS3Region }},
		{"s3-endpoint", "s3.endpoint", func() any { return convertS3Endpoint }},
		{"s3-profile", "s3.profile", func() any { return convertS3Profile }},
		{"s3-path-style", "s3.force_path_style", func() any { return convertS3PathStyle }},
	}
	for _, b := range bind {
		if flags.Changed(b.flag) {
			out[b.key] = b.val()
		}
	}
	if f := cmd.Flag("verbose"); f != nil && f.Changed {
		out["logging.verbose"] = verbose
	}
	return out
}

// buildAdapter assembles the conversion adapter for the configured backend.
// Builtin formats are always converted in-process; the backend decides what
// happens to every other type.
func buildAdapter(cfg *config.Config) (*convert.Registry, error) {
	text := convert.NewText()
	reg := convert.NewRegistry().Register(text, text.Formats()...)

	switch cfg.Convert.Backend {
	case "", config.BackendBuiltin:
	case config.BackendHTTP:
		h, err := newHTTPAdapter(cfg)
		if err != nil {
			return nil, &batch.ConfigurationError{Err: err}
		}
		reg.SetFallback(h)
	case config.BackendSimulate:
		reg.SetFallback(&convert.Simulated{Delay: 50 * time.Millisecond, PerKB: time.Millisecond})
	default:
		return nil, &batch.ConfigurationError{Err: fmt.Errorf("backend: unknown backend %q", cfg.Convert.Backend)}
	}
	return reg, nil
}

func newHTTPAdapter(cfg *config.Config) (*convert.HTTP, error) {
	return convert.NewHTTP(convert.HTTPConfig{
		Endpoint:  cfg.Convert.Endpoint,
		Token:     cfg.Convert.Token,
		Field:     cfg.Convert.Field,
		UserAgent: appName + "/" + versionInfo.Version,
	})
}

func logFilePath(stateDir string, now time.Time) string {
	return filepath.Join(stateDir, "logs", fmt.Sprintf("%s_%s.log", appName, now.Format("20060102_150405")))
}

// liveJob exposes the running scheduler to the status server.
type liveJob struct {
	id    string
	sched atomic.Pointer[scheduler.Scheduler]
}

var _ handlers.Source = (*liveJob)(nil)

func (l *liveJob) attach(s *scheduler.Scheduler) {
	l.sched.Store(s)
}

func (l *liveJob) JobID() string {
	return l.id
}

func (l *liveJob) Snapshot() (job.Snapshot, bool) {
	s := l.sched.Load()
	if s == nil {
		return job.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// checkpointHealth fails once a checkpoint save has failed.
func (l *liveJob) checkpointHealth(context.Context) error {
	s := l.sched.Load()
	if s == nil {
		return nil
	}
	if n := s.SaveErrors(); n > 0 {
		return fmt.Errorf("%d checkpoint saves failed", n)
	}
	return nil
}

func startStatusServer(ctx context.Context, addr string, live *liveJob, log *zap.Logger) (*server.Server, error) {
	srv, err := server.NewFromAddr(addr,
		server.WithSource(live),
		server.WithLogger(log),
		server.WithVersion(handlers.VersionResponse{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}))
	if err != nil {
		return nil, err
	}
	srv.Health().RegisterChecker("checkpoint", handlers.CheckerFunc(live.checkpointHealth))
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// printSummary writes the human-readable job summary.
func printSummary(w io.Writer, res *batch.Result) {
	title := "Conversion summary"
	if res.DryRun {
		title = "Conversion plan (dry-run)"
	}
	fmt.Fprintf(w, "=== %s ===\n", title)
	fmt.Fprintf(w, "Job:         %s\n", res.JobID)
	fmt.Fprintf(w, "Target:      %s\n", res.Target)
	fmt.Fprintf(w, "Scanned:     %d\n", res.Scanned)
	if res.Resumed > 0 {
		fmt.Fprintf(w, "Resumed:     %d already converted\n", res.Resumed)
	}
	if res.Dropped > 0 {
		fmt.Fprintf(w, "Dropped:     %d checkpointed files no longer present\n", res.Dropped)
	}
	if len(res.ScanErrors) > 0 {
		fmt.Fprintf(w, "Unreadable:  %d paths\n", len(res.ScanErrors))
	}
	if res.Report != nil {
		s := res.Report.Summary
		fmt.Fprintf(w, "Total:       %d\n", s.Total)
		fmt.Fprintf(w, "Success:     %d\n", s.Success)
		fmt.Fprintf(w, "Failure:     %d\n", s.Failure)
		fmt.Fprintf(w, "Skipped:     %d\n", s.Skipped)
		if s.Pending > 0 {
			fmt.Fprintf(w, "Pending:     %d\n", s.Pending)
		}
		fmt.Fprintf(w, "Duration:    %.1fs\n", s.DurationSeconds)

		if kinds := res.Report.FailuresByKind(); len(kinds) > 0 {
			fmt.Fprintln(w, "Failures by kind:")
			for _, k := range sortedKeys(kinds) {
				fmt.Fprintf(w, "  %-20s %d\n", k, kinds[k])
			}
		}
	}
	if res.Interrupted {
		fmt.Fprintln(w, "Interrupted: yes")
	}
	if res.ReportLocation != "" {
		fmt.Fprintf(w, "Report:      %s\n", res.ReportLocation)
	}
	if res.JournalPath != "" {
		fmt.Fprintf(w, "Journal:     %s\n", res.JournalPath)
	}
}
