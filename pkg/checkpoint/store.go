// Package checkpoint persists the resume point of a conversion job.
//
// A checkpoint records which descriptor keys have completed and which are
// still pending. It is the only state that survives process termination and
// it is authoritative: a key recorded as completed is not processed again,
// whether or not its output still exists.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is the persisted checkpoint.
//
// On-disk form:
//
//	{"timestamp": 1760000000.25, "completed": ["a.pdf"], "pending": ["b.docx"]}
type Record struct {
	// Timestamp is the save time in fractional Unix seconds.
	Timestamp float64 `json:"timestamp"`

	// Completed are the keys that need no further work.
	Completed []string `json:"completed"`

	// Pending are the keys that still need work.
	Pending []string `json:"pending"`
}

// Time returns the save time.
func (r *Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// Validate checks that no key is both completed and pending.
func (r *Record) Validate() error {
	seen := make(map[string]struct{}, len(r.Completed))
	for _, k := range r.Completed {
		seen[k] = struct{}{}
	}
	for _, k := range r.Pending {
		if _, ok := seen[k]; ok {
			return fmt.Errorf("key %q is both completed and pending", k)
		}
	}
	return nil
}

// LoadError reports a checkpoint that exists but could not be used.
//
// Callers treat it as the absence of a checkpoint and report it as a warning.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return "checkpoint: load " + e.Path + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// SaveError reports a failed checkpoint write. The previous checkpoint, if
// any, is left intact.
type SaveError struct {
	Path string
	Op   string
	Err  error
}

func (e *SaveError) Error() string {
	return "checkpoint: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// ErrMalformed indicates the checkpoint file does not hold a valid record.
var ErrMalformed = errors.New("malformed checkpoint")

// Store reads and writes a checkpoint file at a fixed path.
type Store struct {
	path string
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint.
//
// Returns (nil, nil) when no checkpoint exists and (nil, *LoadError) when the
// file is unreadable or malformed.
func (s *Store) Load() (*Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &LoadError{Path: s.path, Err: err}
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, &LoadError{Path: s.path, Err: fmt.Errorf("%w: file is empty", ErrMalformed)}
	}

	var rec Record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, &LoadError{Path: s.path, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if err := rec.Validate(); err != nil {
		return nil, &LoadError{Path: s.path, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if rec.Completed == nil {
		rec.Completed = []string{}
	}
	if rec.Pending == nil {
		rec.Pending = []string{}
	}
	return &rec, nil
}

// Save atomically replaces the checkpoint with record.
//
// The record is written to a temporary file in the same directory, synced
// and renamed over the checkpoint path, so a crash never leaves a partially
// written checkpoint visible.
func (s *Store) Save(record *Record) error {
	if record == nil {
		return &SaveError{Path: s.path, Op: "save", Err: errors.New("record is nil")}
	}
	if s.path == "" {
		return &SaveError{Path: s.path, Op: "save", Err: errors.New("checkpoint path is empty")}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &SaveError{Path: s.path, Op: "mkdir", Err: err}
	}

	b, err := json.Marshal(record)
	if err != nil {
		return &SaveError{Path: s.path, Op: "marshal", Err: err}
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return &SaveError{Path: s.path, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return &SaveError{Path: s.path, Op: "write temp", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &SaveError{Path: s.path, Op: "sync temp", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &SaveError{Path: s.path, Op: "close temp", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &SaveError{Path: s.path, Op: "rename", Err: err}
	}
	return nil
}

// Clear removes the checkpoint. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return &SaveError{Path: s.path, Op: "remove", Err: err}
	}
	return nil
}
