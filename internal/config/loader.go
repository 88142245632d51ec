// Package config loads tomd configuration.
//
// Precedence, highest first: runtime overrides (set command-line flags),
// TOMD_* environment variables (a .env file in the working directory is
// loaded first), the optional config file, built-in defaults.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/3leaps/tomd/pkg/batch"
	"github.com/3leaps/tomd/pkg/match"
	"github.com/3leaps/tomd/pkg/scheduler"
)

// EnvPrefix prefixes every environment variable tomd reads.
const EnvPrefix = "TOMD"

// DefaultJobsKeep is the number of finished runs kept in the run history.
const DefaultJobsKeep = 50

// Backends.
const (
	BackendBuiltin  = "builtin"
	BackendHTTP     = "http"
	BackendSimulate = "simulate"
)

// Config is the resolved configuration.
type Config struct {
	Source     string           `mapstructure:"source"`
	Target     string           `mapstructure:"target"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Convert    ConvertConfig    `mapstructure:"convert"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	S3         S3Config         `mapstructure:"s3"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Status     StatusConfig     `mapstructure:"status"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// ScanConfig selects source files.
type ScanConfig struct {
	Recursive     bool     `mapstructure:"recursive"`
	FileTypes     []string `mapstructure:"file_types"`
	Includes      []string `mapstructure:"includes"`
	Excludes      []string `mapstructure:"excludes"`
	IncludeHidden bool     `mapstructure:"include_hidden"`
	IgnoreFile    string   `mapstructure:"ignore_file"`

	// MaxFileSize is a human-readable size ("20MB"). Empty means no limit.
	MaxFileSize string `mapstructure:"max_file_size"`
}

// ConvertConfig controls conversion and scheduling.
type ConvertConfig struct {
	Backend   string        `mapstructure:"backend"`
	Endpoint  string        `mapstructure:"endpoint"`
	Token     string        `mapstructure:"token"`
	Field     string        `mapstructure:"field"`
	Threads   int           `mapstructure:"threads"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Order     string        `mapstructure:"order"`
	Overwrite bool          `mapstructure:"overwrite"`
	DryRun    bool          `mapstructure:"dry_run"`
}

// CheckpointConfig controls resume state.
type CheckpointConfig struct {
	Path     string        `mapstructure:"path"`
	StateDir string        `mapstructure:"state_dir"`
	Every    int           `mapstructure:"every"`
	Interval time.Duration `mapstructure:"interval"`
	Resume   bool          `mapstructure:"resume"`
}

// S3Config configures s3:// targets.
type S3Config struct {
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// LoggingConfig controls CLI logging.
type LoggingConfig struct {
	Verbose bool `mapstructure:"verbose"`

	// File enables the JSON log file under <state dir>/logs.
	File bool `mapstructure:"file"`
}

// StatusConfig controls the optional status endpoint.
type StatusConfig struct {
	// Addr is host:port. Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// JobsConfig controls the run history.
type JobsConfig struct {
	// Dir holds one job.json per run. Empty means <app data dir>/runs.
	Dir string `mapstructure:"dir"`

	// Keep is the number of finished runs retained.
	Keep int `mapstructure:"keep"`
}

// envSpec maps a short environment variable onto a config key.
type envSpec struct {
	Name string
	Path string
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

func setDefaults(v *viper.Viper) {
	def := scheduler.DefaultConfig()

	v.SetDefault("source", "")
	v.SetDefault("target", "")

	v.SetDefault("scan.recursive", true)
	v.SetDefault("scan.file_types", []string{})
	v.SetDefault("scan.includes", []string{})
	v.SetDefault("scan.excludes", []string{})
	v.SetDefault("scan.include_hidden", false)
	v.SetDefault("scan.ignore_file", "")
	v.SetDefault("scan.max_file_size", "")

	v.SetDefault("convert.backend", BackendBuiltin)
	v.SetDefault("convert.endpoint", "")
	v.SetDefault("convert.token", "")
	v.SetDefault("convert.field", "file")
	v.SetDefault("convert.threads", def.Concurrency)
	v.SetDefault("convert.timeout", def.TaskTimeout.String())
	v.SetDefault("convert.rate_limit", 0.0)
	v.SetDefault("convert.order", def.Order)
	v.SetDefault("convert.overwrite", false)
	v.SetDefault("convert.dry_run", false)

	v.SetDefault("checkpoint.path", "")
	v.SetDefault("checkpoint.state_dir", "")
	v.SetDefault("checkpoint.every", def.CheckpointEvery)
	v.SetDefault("checkpoint.interval", def.CheckpointInterval.String())
	v.SetDefault("checkpoint.resume", true)

	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.file", true)

	v.SetDefault("status.addr", "")

	v.SetDefault("jobs.dir", "")
	v.SetDefault("jobs.keep", DefaultJobsKeep)
}

// getEnvSpecs returns the short environment variable names. Every key is
// also reachable through its full name, e.g. TOMD_CONVERT_THREADS.
func getEnvSpecs() []envSpec {
	p := EnvPrefix + "_"
	return []envSpec{
		{Name: p + "THREADS", Path: "convert.threads"},
		{Name: p + "TIMEOUT", Path: "convert.timeout"},
		{Name: p + "BACKEND", Path: "convert.backend"},
		{Name: p + "ENDPOINT", Path: "convert.endpoint"},
		{Name: p + "TOKEN", Path: "convert.token"},
		{Name: p + "RATE_LIMIT", Path: "convert.rate_limit"},
		{Name: p + "FILE_TYPES", Path: "scan.file_types"},
		{Name: p + "MAX_FILE_SIZE", Path: "scan.max_file_size"},
		{Name: p + "CHECKPOINT", Path: "checkpoint.path"},
		{Name: p + "STATE_DIR", Path: "checkpoint.state_dir"},
		{Name: p + "VERBOSE", Path: "logging.verbose"},
		{Name: p + "STATUS_ADDR", Path: "status.addr"},
		{Name: p + "JOBS_DIR", Path: "jobs.dir"},
		{Name: p + "S3_REGION", Path: "s3.region"},
		{Name: p + "S3_ENDPOINT", Path: "s3.endpoint"},
		{Name: p + "S3_PROFILE", Path: "s3.profile"},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load resolves configuration from file (optional), environment and
// overrides, and stores it for GetConfig.
//
// Overrides are nested maps keyed like the config file; later maps win.
func Load(ctx context.Context, file string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		if err := ValidateRaw(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", file, err)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name, EnvPrefix+"_"+envKey(spec.Path)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func envKey(path string) string {
	return strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// flatten turns nested maps into dotted keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// normalize trims list entries that came from comma-separated env values.
func (c *Config) normalize() {
	c.Scan.FileTypes = trimList(c.Scan.FileTypes)
	c.Scan.Includes = trimList(c.Scan.Includes)
	c.Scan.Excludes = trimList(c.Scan.Excludes)
	c.Convert.Backend = strings.ToLower(strings.TrimSpace(c.Convert.Backend))
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BatchOptions converts the configuration into job options.
func (c *Config) BatchOptions() (batch.Options, error) {
	opts := batch.DefaultOptions(c.Source)
	opts.Target = c.Target
	opts.Recursive = c.Scan.Recursive
	opts.FileTypes = c.Scan.FileTypes
	opts.Includes = c.Scan.Includes
	opts.Excludes = c.Scan.Excludes
	opts.IncludeHidden = c.Scan.IncludeHidden
	opts.IgnoreFile = c.Scan.IgnoreFile
	if strings.TrimSpace(c.Scan.MaxFileSize) != "" {
		n, err := match.ParseSize(c.Scan.MaxFileSize)
		if err != nil {
			return batch.Options{}, &batch.ConfigurationError{Err: fmt.Errorf("max_file_size: %w", err)}
		}
		opts.MaxFileSize = n
	}

	opts.Threads = c.Convert.Threads
	opts.Timeout = c.Convert.Timeout
	opts.RateLimit = c.Convert.RateLimit
	opts.Order = c.Convert.Order
	opts.Overwrite = c.Convert.Overwrite
	opts.DryRun = c.Convert.DryRun

	opts.CheckpointPath = c.Checkpoint.Path
	opts.StateDir = c.Checkpoint.StateDir
	opts.CheckpointEvery = c.Checkpoint.Every
	opts.CheckpointInterval = c.Checkpoint.Interval
	opts.NoResume = !c.Checkpoint.Resume

	opts.S3 = batch.S3Options{
		Region:         c.S3.Region,
		Endpoint:       c.S3.Endpoint,
		Profile:        c.S3.Profile,
		ForcePathStyle: c.S3.ForcePathStyle,
	}
	return opts, nil
}
