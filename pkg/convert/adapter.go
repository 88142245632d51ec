// Package convert defines the boundary between the orchestrator and the
// backends that turn a source file into Markdown.
//
// An Adapter is called once per descriptor, possibly from many goroutines at
// once, and must not keep per-call state. Adapter failures are reported as
// *Failure values so the scheduler can record a classified outcome instead
// of aborting the run.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/3leaps/tomd/pkg/job"
)

// Adapter converts one source file to Markdown.
//
// Implementations must be reentrant and should honour ctx; the scheduler
// enforces the task deadline even when they do not.
type Adapter interface {
	Convert(ctx context.Context, sourcePath, typeTag string) (string, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, sourcePath, typeTag string) (string, error)

// Convert calls f.
func (f AdapterFunc) Convert(ctx context.Context, sourcePath, typeTag string) (string, error) {
	return f(ctx, sourcePath, typeTag)
}

// Failure is a classified conversion error.
type Failure struct {
	Kind    job.ErrorKind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return string(f.Kind) + ": " + f.Err.Error()
	}
	if f.Err != nil {
		return string(f.Kind) + ": " + f.Message + ": " + f.Err.Error()
	}
	return string(f.Kind) + ": " + f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ErrUnsupportedFormat is wrapped by failures for type tags no adapter handles.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Unsupported returns an unsupported-format failure for typeTag.
func Unsupported(typeTag string) error {
	tag := typeTag
	if tag == "" {
		tag = "(no extension)"
	}
	return &Failure{Kind: job.KindUnsupportedFormat, Message: "no converter for type " + tag, Err: ErrUnsupportedFormat}
}

// ReadError wraps err as a read-error failure.
func ReadError(path string, err error) error {
	return &Failure{Kind: job.KindReadError, Message: "read " + path, Err: err}
}

// Internal wraps err as an internal-error failure.
func Internal(msg string, err error) error {
	return &Failure{Kind: job.KindInternal, Message: msg, Err: err}
}

// Internalf builds an internal-error failure from a format string.
func Internalf(format string, args ...any) error {
	return &Failure{Kind: job.KindInternal, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err.
//
// *Failure values keep their kind; deadline errors are timeouts; filesystem
// errors are read errors; anything else is an internal error. A nil error
// has no kind.
func KindOf(err error) job.ErrorKind {
	if err == nil {
		return ""
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return job.KindTimeout
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return job.KindReadError
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return job.KindReadError
	}
	return job.KindInternal
}

// readSource reads the whole source file, honouring ctx before the read.
func readSource(ctx context.Context, sourcePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, ReadError(sourcePath, err)
	}
	return b, nil
}
