// Package output provides the JSONL journal for conversion jobs.
//
// The journal is structured as typed record envelopes containing per-file
// outcomes, scan errors, progress updates and a final summary. Each line is
// a self-contained JSON object that can be parsed independently, so a
// journal cut short by a crash is still readable up to its last line.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/tomd/pkg/job"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: tomd.<type>.v<version>
const (
	// TypeOutcome identifies per-file outcome records.
	TypeOutcome = "tomd.outcome.v1"

	// TypeScanError identifies directory scan error records.
	TypeScanError = "tomd.scan_error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "tomd.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "tomd.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "tomd.outcome.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this conversion job.
	JobID string `json:"job_id"`

	// Source is the root directory being converted.
	Source string `json:"source"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// OutcomeRecord is the data payload for one processed file.
type OutcomeRecord struct {
	RelativePath string `json:"relative_path"`
	SourcePath   string `json:"source_path,omitempty"`
	TypeTag      string `json:"type,omitempty"`
	Size         int64  `json:"size"`

	// Status is one of success, failure or skipped.
	Status string `json:"status"`

	// Kind classifies failures.
	Kind string `json:"kind,omitempty"`

	// Message carries the failure message or skip reason.
	Message string `json:"message,omitempty"`

	OutputPath string `json:"output_path,omitempty"`
	Title      string `json:"title,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// NewOutcomeRecord flattens an outcome into its journal payload.
func NewOutcomeRecord(o job.Outcome) *OutcomeRecord {
	rec := &OutcomeRecord{
		RelativePath:  o.Descriptor.RelPath,
		SourcePath:    o.Descriptor.SourcePath,
		TypeTag:       o.Descriptor.TypeTag,
		Size:          o.Descriptor.Size,
		Status:        string(o.Status),
		Message:       o.Message(),
		Duration:      o.Duration(),
		DurationHuman: o.Duration().String(),
	}
	switch {
	case o.Success != nil:
		rec.OutputPath = o.Success.OutputPath
		rec.Title = o.Success.Title
		rec.Bytes = o.Success.Bytes
	case o.Failure != nil:
		rec.Kind = string(o.Failure.Kind)
	}
	return rec
}

// Outcome rebuilds the outcome a record was written from.
func (r *OutcomeRecord) Outcome() job.Outcome {
	d := job.FileDescriptor{
		SourcePath: r.SourcePath,
		RelPath:    r.RelativePath,
		TypeTag:    r.TypeTag,
		Size:       r.Size,
	}
	switch job.Status(r.Status) {
	case job.StatusSuccess:
		return job.Succeeded(d, job.Success{OutputPath: r.OutputPath, Duration: r.Duration, Bytes: r.Bytes, Title: r.Title})
	case job.StatusSkipped:
		return job.SkippedFor(d, r.Message)
	default:
		return job.Failed(d, job.ErrorKind(r.Kind), r.Message, r.Duration)
	}
}

// ScanErrorRecord is the data payload for a directory that could not be read.
//
// Scan errors are emitted as records rather than failing the job, so the
// rest of the tree is still converted.
type ScanErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the absolute path that failed.
	Path string `json:"path"`

	// RelativePath is Path relative to the source root.
	RelativePath string `json:"relative_path,omitempty"`

	// Op is the filesystem operation that failed.
	Op string `json:"op,omitempty"`
}

// Error codes for ScanErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the path vanished during the scan.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Phase indicates the current job phase.
	Phase string `json:"phase"`

	Total    int `json:"total"`
	Done     int `json:"done"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	InFlight int `json:"in_flight"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// Progress phase constants.
const (
	// PhaseScanning indicates the source tree is being walked.
	PhaseScanning = "scanning"

	// PhaseConverting indicates files are being converted.
	PhaseConverting = "converting"

	// PhaseComplete indicates the job has finished.
	PhaseComplete = "complete"
)

// NewProgressRecord builds a progress payload from a state snapshot.
func NewProgressRecord(phase string, snap job.Snapshot) *ProgressRecord {
	return &ProgressRecord{
		Phase:    phase,
		Total:    snap.Total,
		Done:     snap.Done(),
		Success:  snap.Success,
		Failed:   snap.Failed,
		Skipped:  snap.Skipped,
		InFlight: snap.InFlight,
		Elapsed:  snap.Elapsed,
	}
}

// SummaryRecord is the data payload for final summaries.
type SummaryRecord struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`

	// Resumed counts files skipped up front because the checkpoint marked
	// them completed.
	Resumed int `json:"resumed,omitempty"`

	ScanErrors  int  `json:"scan_errors"`
	Interrupted bool `json:"interrupted"`

	// Duration is the total job duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Report locates the written report, if any.
	Report string `json:"report,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
