package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/tomd/pkg/batch"
)

// exitFilesFailed is returned when the job ran but some files failed.
const exitFilesFailed = 1

// exitErr carries the process exit code for a command error.
type exitErr struct {
	code    int
	message string
	err     error

	// quiet errors were already reported to the user.
	quiet bool
}

func (e *exitErr) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.message, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *exitErr) Unwrap() error {
	return e.err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitErr{code: code, message: message, err: err}
}

// quietExit exits with code without printing anything further.
func quietExit(code int) error {
	return &exitErr{code: code, message: "exit", quiet: true}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return classify(err)
}

// classify picks the exit code for job errors that carry no explicit code.
func classify(err error) int {
	var cfgErr *batch.ConfigurationError
	var outErr *batch.OutputError
	switch {
	case errors.As(err, &cfgErr):
		return foundry.ExitInvalidArgument
	case errors.As(err, &outErr):
		return foundry.ExitFileWriteError
	default:
		return exitFilesFailed
	}
}
