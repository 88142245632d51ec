// Package batch wires scanning, checkpoint resume, scheduling and reporting
// into a single conversion job.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/tomd/pkg/checkpoint"
	"github.com/3leaps/tomd/pkg/convert"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/match"
	"github.com/3leaps/tomd/pkg/output"
	"github.com/3leaps/tomd/pkg/provider"
	"github.com/3leaps/tomd/pkg/provider/file"
	"github.com/3leaps/tomd/pkg/provider/s3"
	"github.com/3leaps/tomd/pkg/report"
	"github.com/3leaps/tomd/pkg/scan"
	"github.com/3leaps/tomd/pkg/scheduler"
)

// Deps are the collaborators of a job.
type Deps struct {
	// Adapter converts one file. Required.
	Adapter convert.Adapter

	// Sink overrides the sink derived from Options.Target.
	Sink provider.Sink

	Logger *zap.Logger

	// OnScheduler is called with the scheduler before it runs, so callers
	// can observe live state.
	OnScheduler func(*scheduler.Scheduler)

	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes a finished or interrupted job.
type Result struct {
	JobID  string
	Report *report.Report

	// ReportKey and ReportLocation are empty when no report was written.
	ReportKey      string
	ReportLocation string

	JournalPath    string
	CheckpointPath string
	StateDir       string
	Target         string

	// Scanned is the number of files the scan found.
	Scanned    int
	ScanErrors []*scan.Error

	// Resumed counts files the checkpoint already marked completed.
	Resumed int

	// Dropped counts checkpointed keys no longer present in the source.
	Dropped int

	Interrupted bool
	DryRun      bool
}

// Failed returns the number of failed files.
func (r *Result) Failed() int {
	if r == nil || r.Report == nil {
		return 0
	}
	return r.Report.Summary.Failure
}

// JournalName returns the journal file name for a job.
func JournalName(jobID string) string {
	return "journal-" + jobID + ".jsonl"
}

// Run executes a conversion job.
//
// Invalid options yield a *ConfigurationError and an unwritable target or
// state directory an *OutputError, both before any file is scheduled.
// Per-file problems are outcomes in the report, never errors. When ctx is
// cancelled mid-run, Run returns the partial result together with ctx.Err().
func Run(ctx context.Context, opts Options, deps Deps) (*Result, error) {
	if deps.Adapter == nil {
		return nil, &ConfigurationError{Err: errors.New("adapter: no conversion adapter configured")}
	}
	o, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	res := &Result{
		JobID:          o.JobID,
		CheckpointPath: o.CheckpointPath,
		StateDir:       o.StateDir,
		Target:         o.target.String(),
		DryRun:         o.DryRun,
	}

	sink := deps.Sink
	if sink == nil {
		sink, err = OpenSink(ctx, o.target, o.S3)
		if err != nil {
			return nil, &OutputError{Path: o.target.String(), Err: err}
		}
		defer func() { _ = sink.Close() }()
	}

	matcher, err := buildMatcher(o)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}
	scanner, err := scan.New(scan.Config{
		Root:      o.Source,
		Recursive: o.Recursive,
		Matcher:   matcher,
		SkipDirs:  o.skipDirs(),
		MaxSize:   o.MaxFileSize,
	})
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	var journal output.Writer
	if !o.DryRun {
		if err := os.MkdirAll(o.StateDir, 0o755); err != nil {
			return nil, &OutputError{Path: o.StateDir, Err: err}
		}
		res.JournalPath = filepath.Join(o.StateDir, JournalName(o.JobID))
		f, err := os.Create(res.JournalPath)
		if err != nil {
			return nil, &OutputError{Path: res.JournalPath, Err: err}
		}
		jw := output.NewJSONLWriter(f, o.JobID, o.Source)
		journal = jw
		defer func() {
			_ = jw.Close()
			_ = f.Close()
		}()
	}

	started := now()
	log.Info("Scanning source",
		zap.String("job_id", o.JobID),
		zap.String("source", o.Source),
		zap.Bool("recursive", o.Recursive))

	descs, scanErrs, err := scan.Collect(ctx, scanner)
	res.Scanned = len(descs)
	res.ScanErrors = scanErrs
	for _, se := range scanErrs {
		log.Warn("Skipping unreadable path",
			zap.String("path", se.Path),
			zap.String("op", se.Op),
			zap.Error(se.Err))
		if journal != nil {
			if werr := journal.WriteScanError(ctx, scanErrorRecord(se)); werr != nil {
				log.Debug("Failed to write scan error record", zap.Error(werr))
			}
		}
	}
	if err != nil {
		// Cancelled while scanning: nothing was scheduled.
		res.Interrupted = true
		return res, err
	}

	// Collisions are judged on the full scan so a resumed run keeps the
	// same owner for each output.
	collisions := job.OutputCollisions(descs)
	for _, d := range descs {
		if owner, ok := collisions[d.Key()]; ok {
			log.Warn("Skipping file with colliding output",
				zap.String("path", d.RelPath),
				zap.String("output", d.OutputKey()),
				zap.String("owner", owner))
		}
	}

	store := checkpoint.NewStore(o.CheckpointPath)
	prev := loadCheckpoint(store, o.NoResume, log)

	plan := checkpoint.Resume(prev, keys(descs))
	res.Resumed = len(plan.Completed)
	res.Dropped = len(plan.Dropped)
	pending := filterPending(descs, plan.Pending)
	if prev != nil {
		log.Info("Resuming from checkpoint",
			zap.String("checkpoint", o.CheckpointPath),
			zap.Int("completed", len(plan.Completed)),
			zap.Int("pending", len(plan.Pending)),
			zap.Int("dropped", len(plan.Dropped)))
	}

	cfg := scheduler.Config{
		Concurrency:        o.Threads,
		TaskTimeout:        o.Timeout,
		DryRun:             o.DryRun,
		Overwrite:          o.Overwrite,
		Collisions:         collisions,
		CheckpointEvery:    o.CheckpointEvery,
		CheckpointInterval: o.CheckpointInterval,
		RateLimit:          o.RateLimit,
		Order:              o.Order,
		ProgressEvery:      o.ProgressEvery,
	}
	schedOpts := []scheduler.Option{scheduler.WithLogger(log)}
	if !o.DryRun {
		schedOpts = append(schedOpts,
			scheduler.WithJournal(journal),
			scheduler.WithCheckpointStore(store))
	}
	sched := scheduler.New(cfg, deps.Adapter, sink, checkpoint.NewMirror(plan), schedOpts...)
	if deps.OnScheduler != nil {
		deps.OnScheduler(sched)
	}

	state, runErr := sched.Run(ctx, pending)
	if errors.Is(runErr, scheduler.ErrAlreadyRun) {
		return nil, runErr
	}
	snap := state.Snapshot()
	res.Interrupted = snap.Interrupted

	rep := report.Build(o.JobID, snap, now())
	res.Report = rep

	var outErr error
	if !o.DryRun {
		// The report and summary are written even when the job was interrupted.
		wctx := context.WithoutCancel(ctx)
		key := report.Key(rep.JobID, rep.GeneratedAt)
		if err := report.Write(wctx, sink, key, rep); err != nil {
			log.Error("Failed to write report", zap.String("key", key), zap.Error(err))
			outErr = &OutputError{Path: provider.Location(sink, key), Err: err}
		} else {
			res.ReportKey = key
			res.ReportLocation = provider.Location(sink, key)
		}

		elapsed := now().Sub(started)
		sum := &output.SummaryRecord{
			Total:         snap.Total,
			Success:       snap.Success,
			Failed:        snap.Failed,
			Skipped:       snap.Skipped,
			Pending:       snap.Pending(),
			Resumed:       res.Resumed,
			ScanErrors:    len(scanErrs),
			Interrupted:   snap.Interrupted,
			Duration:      elapsed,
			DurationHuman: elapsed.Round(time.Millisecond).String(),
			Report:        res.ReportLocation,
		}
		if err := journal.WriteSummary(wctx, sum); err != nil {
			log.Warn("Failed to write summary record", zap.Error(err))
		}
	}

	if runErr != nil {
		return res, runErr
	}
	return res, outErr
}

// OpenSink creates the sink for a parsed target.
func OpenSink(ctx context.Context, t provider.Target, opts S3Options) (provider.Sink, error) {
	switch t.Type {
	case provider.ProviderFile:
		return file.New(file.Config{BaseDir: t.Path})
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:         t.Bucket,
			Prefix:         t.Prefix,
			Region:         opts.Region,
			Endpoint:       opts.Endpoint,
			Profile:        opts.Profile,
			ForcePathStyle: opts.ForcePathStyle || opts.Endpoint != "",
		})
	default:
		return nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedProvider, t.Type)
	}
}

func buildMatcher(o *resolved) (*match.Matcher, error) {
	lines, err := match.ReadIgnoreFile(o.IgnoreFile)
	if err != nil {
		return nil, err
	}
	return match.New(match.Config{
		Includes:      o.Includes,
		Excludes:      o.Excludes,
		Types:         o.FileTypes,
		IgnoreLines:   lines,
		IncludeHidden: o.IncludeHidden,
	})
}

// loadCheckpoint returns the previous record, or nil when resuming is
// disabled or the checkpoint is missing or unusable.
func loadCheckpoint(store *checkpoint.Store, noResume bool, log *zap.Logger) *checkpoint.Record {
	if noResume {
		return nil
	}
	prev, err := store.Load()
	if err != nil {
		log.Warn("Ignoring unusable checkpoint, starting fresh",
			zap.String("checkpoint", store.Path()),
			zap.Error(err))
		return nil
	}
	return prev
}

func keys(descs []job.FileDescriptor) []string {
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Key()
	}
	return out
}

// filterPending keeps descriptors whose key is pending, in scan order.
func filterPending(descs []job.FileDescriptor, pending []string) []job.FileDescriptor {
	want := make(map[string]struct{}, len(pending))
	for _, k := range pending {
		want[k] = struct{}{}
	}
	out := make([]job.FileDescriptor, 0, len(pending))
	for _, d := range descs {
		if _, ok := want[d.Key()]; ok {
			out = append(out, d)
			delete(want, d.Key())
		}
	}
	return out
}

func scanErrorRecord(se *scan.Error) *output.ScanErrorRecord {
	code := output.ErrCodeInternal
	switch {
	case errors.Is(se.Err, fs.ErrPermission):
		code = output.ErrCodeAccessDenied
	case errors.Is(se.Err, fs.ErrNotExist):
		code = output.ErrCodeNotFound
	}
	return &output.ScanErrorRecord{
		Code:         code,
		Message:      se.Err.Error(),
		Path:         se.Path,
		RelativePath: se.RelPath,
		Op:           se.Op,
	}
}
