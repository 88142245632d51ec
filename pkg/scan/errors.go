package scan

import (
	"context"
	"errors"

	"github.com/3leaps/tomd/pkg/job"
)

// Error reports a directory or entry the scan could not read.
//
// Scan errors are data: the walk continues past them.
type Error struct {
	// Path is the absolute path that failed.
	Path string

	// RelPath is Path relative to the scan root.
	RelPath string

	// Op is the failing operation ("readdir", "stat", "resolve").
	Op string

	Err error
}

func (e *Error) Error() string {
	return "scan: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Collect drains the scanner into descriptors and scan errors.
//
// The returned error is non-nil only when ctx was cancelled.
func Collect(ctx context.Context, s *Scanner) ([]job.FileDescriptor, []*Error, error) {
	var (
		descs []job.FileDescriptor
		errs  []*Error
	)
	for d, err := range s.Scan(ctx) {
		if err != nil {
			var scanErr *Error
			if errors.As(err, &scanErr) {
				errs = append(errs, scanErr)
			}
			continue
		}
		descs = append(descs, d)
	}
	if err := ctx.Err(); err != nil {
		return descs, errs, err
	}
	return descs, errs, nil
}
