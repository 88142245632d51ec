package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tomd/pkg/batch"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tomd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		cfg, err := Load(ctx, "")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.True(t, cfg.Scan.Recursive)
		assert.Empty(t, cfg.Scan.FileTypes)
		assert.Equal(t, BackendBuiltin, cfg.Convert.Backend)
		assert.Equal(t, 4, cfg.Convert.Threads)
		assert.Equal(t, 5*time.Minute, cfg.Convert.Timeout)
		assert.Equal(t, "size", cfg.Convert.Order)
		assert.Equal(t, 10, cfg.Checkpoint.Every)
		assert.Equal(t, 30*time.Second, cfg.Checkpoint.Interval)
		assert.True(t, cfg.Checkpoint.Resume)
		assert.True(t, cfg.Logging.File)
		assert.False(t, cfg.Logging.Verbose)
		assert.Empty(t, cfg.Status.Addr)
		assert.Empty(t, cfg.Jobs.Dir)
		assert.Equal(t, DefaultJobsKeep, cfg.Jobs.Keep)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		overrides := map[string]any{
			"convert": map[string]any{
				"threads": 8,
				"dry_run": true,
			},
			"scan": map[string]any{
				"file_types": []string{"pdf", "docx"},
			},
		}

		cfg, err := Load(ctx, "", overrides)
		require.NoError(t, err)

		assert.Equal(t, 8, cfg.Convert.Threads)
		assert.True(t, cfg.Convert.DryRun)
		assert.Equal(t, []string{"pdf", "docx"}, cfg.Scan.FileTypes)
		assert.Equal(t, 5*time.Minute, cfg.Convert.Timeout)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("TOMD_THREADS", "3")
		t.Setenv("TOMD_TIMEOUT", "90s")
		t.Setenv("TOMD_FILE_TYPES", "pdf, docx")
		t.Setenv("TOMD_CONVERT_OVERWRITE", "true")
		t.Setenv("TOMD_RATE_LIMIT", "2.5")
		t.Setenv("TOMD_JOBS_DIR", "/var/lib/tomd/runs")

		cfg, err := Load(ctx, "")
		require.NoError(t, err)

		assert.Equal(t, 3, cfg.Convert.Threads)
		assert.Equal(t, 90*time.Second, cfg.Convert.Timeout)
		assert.Equal(t, []string{"pdf", "docx"}, cfg.Scan.FileTypes)
		assert.True(t, cfg.Convert.Overwrite)
		assert.Equal(t, 2.5, cfg.Convert.RateLimit)
		assert.Equal(t, "/var/lib/tomd/runs", cfg.Jobs.Dir)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		path := writeConfig(t, "convert:\n  threads: 2\n  timeout: 1m\n")
		t.Setenv("TOMD_THREADS", "6")

		cfg, err := Load(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Convert.Threads, "env beats file")
		assert.Equal(t, time.Minute, cfg.Convert.Timeout, "file beats default")

		cfg, err = Load(ctx, path, map[string]any{"convert": map[string]any{"threads": 9}})
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Convert.Threads, "override beats env")
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx, "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		`version: "1.0"`,
		"source: /data/in",
		"target: s3://bucket/out",
		"scan:",
		"  file_types: [pdf, docx]",
		"  excludes: ['**/drafts/**']",
		"  max_file_size: 20MB",
		"convert:",
		"  backend: http",
		"  endpoint: http://localhost:9000/convert",
		"  order: scan",
		"checkpoint:",
		"  every: 25",
		"  interval: 10s",
		"  resume: false",
		"s3:",
		"  region: eu-west-1",
		"status:",
		"  addr: 127.0.0.1:8089",
	}, "\n"))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.Source)
	assert.Equal(t, "s3://bucket/out", cfg.Target)
	assert.Equal(t, []string{"pdf", "docx"}, cfg.Scan.FileTypes)
	assert.Equal(t, []string{"**/drafts/**"}, cfg.Scan.Excludes)
	assert.Equal(t, BackendHTTP, cfg.Convert.Backend)
	assert.Equal(t, "scan", cfg.Convert.Order)
	assert.Equal(t, 25, cfg.Checkpoint.Every)
	assert.Equal(t, 10*time.Second, cfg.Checkpoint.Interval)
	assert.False(t, cfg.Checkpoint.Resume)
	assert.Equal(t, "eu-west-1", cfg.S3.Region)
	assert.Equal(t, "127.0.0.1:8089", cfg.Status.Addr)

	opts, err := cfg.BatchOptions()
	require.NoError(t, err)
	assert.Equal(t, int64(20_000_000), opts.MaxFileSize)
	assert.True(t, opts.NoResume)
	assert.Equal(t, "eu-west-1", opts.S3.Region)
	assert.Equal(t, 25, opts.CheckpointEvery)
}

func TestLoad_SchemaRejectsInvalidFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "convert:\n  workers: 4\n"},
		{"unknown section", "workers: 4\n"},
		{"zero threads", "convert:\n  threads: 0\n"},
		{"bad backend", "convert:\n  backend: pandoc\n"},
		{"bad duration", "convert:\n  timeout: soon\n"},
		{"bad order", "convert:\n  order: random\n"},
		{"bad endpoint", "convert:\n  endpoint: localhost:9000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidateRaw_EmptyDocument(t *testing.T) {
	assert.NoError(t, ValidateRaw([]byte("")))
	assert.NoError(t, ValidateRaw([]byte("{}")))
}

func TestValidationErrors_Error(t *testing.T) {
	one := ValidationErrors{{Path: "/a", Message: "bad"}}
	assert.Equal(t, "/a: bad", one.Error())

	two := ValidationErrors{{Path: "/a", Message: "bad"}, {Message: "worse"}}
	assert.Equal(t, "config validation failed with 2 errors:\n  - /a: bad\n  - worse", two.Error())
	assert.ErrorIs(t, two, ErrValidationFailed)
}

func TestGetConfig(t *testing.T) {
	cfg, err := Load(context.Background(), "", map[string]any{"convert": map[string]any{"threads": 12}})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Convert.Threads, current.Convert.Threads)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		assert.True(t, strings.HasPrefix(spec.Name, "TOMD_"), spec.Name)
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
		names[spec.Name] = true
	}
	assert.True(t, names["TOMD_THREADS"])
	assert.True(t, names["TOMD_CHECKPOINT"])
	assert.True(t, names["TOMD_VERBOSE"])
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TOMD_DOTENV_PROBE=from-file\nTOMD_DOTENV_KEEP=from-file\n"), 0o644))

	t.Setenv("TOMD_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("TOMD_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("TOMD_DOTENV_PROBE"))
	assert.Equal(t, "from-env", os.Getenv("TOMD_DOTENV_KEEP"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestBatchOptions(t *testing.T) {
	cfg, err := Load(context.Background(), "", map[string]any{
		"source": "/src",
		"scan":   map[string]any{"max_file_size": "1KiB"},
	})
	require.NoError(t, err)

	opts, err := cfg.BatchOptions()
	require.NoError(t, err)
	assert.Equal(t, "/src", opts.Source)
	assert.Equal(t, int64(1024), opts.MaxFileSize)
	assert.True(t, opts.Recursive)
	assert.False(t, opts.NoResume)
	assert.Equal(t, 4, opts.Threads)

	cfg.Scan.MaxFileSize = "lots"
	_, err = cfg.BatchOptions()
	var cfgErr *batch.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
