// Package observability holds the process-wide CLI logger.
//
// Library packages never use CLILogger directly; they take a *zap.Logger
// through their options. Commands pass CLILogger down.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by command implementations. It is a no-op
// logger until InitCLILogger runs.
var CLILogger = zap.NewNop()

var (
	mu      sync.Mutex
	console zapcore.Core
	logFile *os.File
)

// InitCLILogger configures CLILogger for human-readable stderr output.
// Verbose lowers the level to debug.
func InitCLILogger(serviceName string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.CallerKey = ""

	mu.Lock()
	defer mu.Unlock()
	closeLogFileLocked()
	console = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(console).Named(serviceName)
}

// AttachLogFile tees CLILogger into a JSON log file at debug level.
//
// The returned function flushes and closes the file; it restores the
// console-only logger.
func AttachLogFile(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	closeLogFileLocked()

	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	base := console
	if base == nil {
		base = zapcore.NewNopCore()
	}
	logFile = f
	CLILogger = zap.New(zapcore.NewTee(base, fileCore))

	return func() {
		_ = CLILogger.Sync()
		mu.Lock()
		defer mu.Unlock()
		closeLogFileLocked()
		CLILogger = zap.New(base)
	}, nil
}

func closeLogFileLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
