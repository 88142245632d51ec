package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/3leaps/tomd/pkg/match"
	"github.com/3leaps/tomd/pkg/provider"
	"github.com/3leaps/tomd/pkg/scheduler"
)

const (
	// DefaultTargetDir is the output directory created under the source when
	// no target is given.
	DefaultTargetDir = "md_output"

	// StateDirName is the state directory created under local targets.
	StateDirName = ".tomd"

	// CheckpointFile is the checkpoint file name inside the state directory.
	CheckpointFile = "checkpoint.json"

	// AppName names the application data directory used for remote targets.
	AppName = "tomd"
)

// S3Options configures the S3 sink for s3:// targets.
type S3Options struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
}

// Options describes one batch conversion job.
type Options struct {
	// Source is the directory to convert.
	Source string

	// Target is a local directory or s3://bucket/prefix.
	// Default: <Source>/md_output.
	Target string

	Recursive     bool
	FileTypes     []string
	Includes      []string
	Excludes      []string
	IncludeHidden bool

	// IgnoreFile holds gitignore-style exclusions.
	// Default: <Source>/.tomdignore (missing file is fine).
	IgnoreFile string

	// MaxFileSize skips larger files. Zero means no limit.
	MaxFileSize int64

	// Threads is the worker count. Must be at least 1.
	Threads int

	// Timeout bounds each conversion. Must be positive.
	Timeout time.Duration

	DryRun    bool
	Overwrite bool

	// NoResume ignores any existing checkpoint.
	NoResume bool

	// StateDir holds the checkpoint and journal.
	// Default: <Target>/.tomd for local targets, the user app data dir otherwise.
	StateDir string

	// CheckpointPath overrides <StateDir>/checkpoint.json.
	CheckpointPath string

	CheckpointEvery    int
	CheckpointInterval time.Duration

	// RateLimit caps admissions per second. Zero means unlimited.
	RateLimit float64

	// Order is scheduler.OrderSize or scheduler.OrderScan.
	Order string

	ProgressEvery int

	// JobID identifies the job in the journal and report. Default: random UUID.
	JobID string

	S3 S3Options
}

// DefaultOptions returns options for converting source with default settings.
func DefaultOptions(source string) Options {
	def := scheduler.DefaultConfig()
	return Options{
		Source:             source,
		Recursive:          true,
		Threads:            def.Concurrency,
		Timeout:            def.TaskTimeout,
		CheckpointEvery:    def.CheckpointEvery,
		CheckpointInterval: def.CheckpointInterval,
		Order:              def.Order,
		ProgressEvery:      def.ProgressEvery,
	}
}

// Validate checks option values. Paths are expected to be resolved.
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Source, validation.Required, validation.By(isDirectory)),
		validation.Field(&o.Target, validation.Required, validation.By(isTarget)),
		validation.Field(&o.FileTypes, validation.By(validTypes)),
		validation.Field(&o.MaxFileSize, validation.Min(int64(0))),
		validation.Field(&o.Threads, validation.By(atLeastOne)),
		validation.Field(&o.Timeout, validation.By(positiveDuration)),
		validation.Field(&o.CheckpointEvery, validation.Min(0)),
		validation.Field(&o.CheckpointInterval, validation.Min(time.Duration(0))),
		validation.Field(&o.RateLimit, validation.Min(0.0)),
		validation.Field(&o.Order, validation.In(scheduler.OrderSize, scheduler.OrderScan)),
		validation.Field(&o.ProgressEvery, validation.Min(0)),
	)
}

func isDirectory(value any) error {
	path, _ := value.(string)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return validation.NewError("batch.source_missing", "directory does not exist")
		}
		return validation.NewError("batch.source_unreadable", err.Error())
	}
	if !info.IsDir() {
		return validation.NewError("batch.source_not_dir", "not a directory")
	}
	return nil
}

func isTarget(value any) error {
	raw, _ := value.(string)
	if _, err := provider.ParseTarget(raw); err != nil {
		return validation.NewError("batch.target_invalid", err.Error())
	}
	return nil
}

func validTypes(value any) error {
	types, _ := value.([]string)
	if _, err := match.ParseTypes(types); err != nil {
		return validation.NewError("batch.file_types_invalid", err.Error())
	}
	return nil
}

func atLeastOne(value any) error {
	if n, _ := value.(int); n < 1 {
		return validation.NewError("batch.threads_min", "must be at least 1")
	}
	return nil
}

func positiveDuration(value any) error {
	if d, _ := value.(time.Duration); d <= 0 {
		return validation.NewError("batch.timeout_positive", "must be positive")
	}
	return nil
}

// ConfigurationError reports invalid options. It is raised before any file
// is scheduled.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// OutputError reports a target or state directory that cannot be written.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output %s: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// resolved carries options with defaults applied and paths made absolute.
type resolved struct {
	Options
	target provider.Target
}

// resolve fills defaults and validates.
func (o Options) resolve() (*resolved, error) {
	if strings.TrimSpace(o.Source) == "" {
		return nil, &ConfigurationError{Err: errors.New("source: cannot be blank")}
	}
	src, err := filepath.Abs(o.Source)
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("source: %w", err)}
	}
	o.Source = src

	if strings.TrimSpace(o.Target) == "" {
		o.Target = filepath.Join(src, DefaultTargetDir)
	}
	if o.Order == "" {
		o.Order = scheduler.OrderSize
	}

	if err := o.Validate(); err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	target, err := provider.ParseTarget(o.Target)
	if err != nil {
		return nil, &ConfigurationError{Err: err}
	}

	if o.IgnoreFile == "" {
		o.IgnoreFile = filepath.Join(src, match.DefaultIgnoreFile)
	}
	if o.StateDir == "" {
		if target.IsLocal() {
			o.StateDir = filepath.Join(target.Path, StateDirName)
		} else {
			o.StateDir = filepath.Join(gfconfig.GetAppDataDir(AppName), "jobs", target.Bucket)
		}
	}
	if o.CheckpointPath == "" {
		o.CheckpointPath = filepath.Join(o.StateDir, CheckpointFile)
	}
	if o.JobID == "" {
		o.JobID = uuid.New().String()
	}
	return &resolved{Options: o, target: target}, nil
}

// Resolve returns o with defaults applied and paths made absolute, exactly
// as Run sees it. Resolving twice is a no-op.
func (o Options) Resolve() (Options, error) {
	r, err := o.resolve()
	if err != nil {
		return Options{}, err
	}
	return r.Options, nil
}

// skipDirs lists directories under the source the scan must not enter.
func (r *resolved) skipDirs() []string {
	dirs := []string{r.StateDir}
	if r.target.IsLocal() {
		dirs = append(dirs, r.target.Path)
	}
	return dirs
}
