// Package job defines the units of work and their terminal outcomes.
//
// A FileDescriptor identifies one source file discovered by a scan. Each
// descriptor dispatched in a run produces exactly one Outcome. JobState
// aggregates outcomes for the lifetime of a process.
package job

import (
	"path"
	"strings"
	"time"
)

// FileDescriptor identifies a single file to convert.
//
// Descriptors are values; they are created once per scan and never mutated.
type FileDescriptor struct {
	// SourcePath is the absolute path of the source file.
	SourcePath string `json:"source_path"`

	// RelPath is the slash-separated path relative to the source root.
	// It is the stable checkpoint key and determines the output location.
	RelPath string `json:"relative_path"`

	// TypeTag is the lower-case file extension without the leading dot.
	TypeTag string `json:"type"`

	// MIMEType is derived from the extension. May be empty.
	MIMEType string `json:"mime_type,omitempty"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`
}

// Key returns the checkpoint key for the descriptor.
func (d FileDescriptor) Key() string {
	return d.RelPath
}

// OutputKey returns the output location relative to the output root: the
// relative path with its extension replaced by ".md".
func (d FileDescriptor) OutputKey() string {
	ext := path.Ext(d.RelPath)
	return strings.TrimSuffix(d.RelPath, ext) + ".md"
}

// OutputCollisions finds descriptors whose output key is already taken by
// another descriptor, such as a.txt and a.pdf both producing a.md. The
// result maps each losing descriptor's key to the relative path that owns
// the output. The lexically smallest relative path owns a contested key.
func OutputCollisions(descs []FileDescriptor) map[string]string {
	owners := make(map[string]string, len(descs))
	for _, d := range descs {
		key := d.OutputKey()
		if cur, ok := owners[key]; !ok || d.RelPath < cur {
			owners[key] = d.RelPath
		}
	}

	out := make(map[string]string)
	for _, d := range descs {
		if owner := owners[d.OutputKey()]; owner != d.RelPath {
			out[d.Key()] = owner
		}
	}
	return out
}

// Status is the terminal state of a processed descriptor.
//
// NOTE: These values are persisted in reports and journals.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusSkipped Status = "skipped"
)

// ErrorKind is the coarse classification of a conversion failure.
type ErrorKind string

const (
	KindUnsupportedFormat ErrorKind = "unsupported-format"
	KindReadError         ErrorKind = "read-error"
	KindTimeout           ErrorKind = "timeout"
	KindInternal          ErrorKind = "internal-error"
	KindWriteError        ErrorKind = "write-error"
)

// Skip reasons.
const (
	ReasonDryRun       = "dry-run"
	ReasonOutputExists = "output exists"
)

// CollisionReason is the skip reason for a descriptor whose output key
// belongs to owner.
func CollisionReason(owner string) string {
	return "output collides with " + owner
}

// Success is the payload of a successful conversion.
type Success struct {
	OutputPath string        `json:"output_path"`
	Duration   time.Duration `json:"duration_ns"`
	Bytes      int64         `json:"bytes"`
	Title      string        `json:"title,omitempty"`
}

// Failure is the payload of a failed conversion.
type Failure struct {
	Kind     ErrorKind     `json:"kind"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// Skipped is the payload of a descriptor that was not converted.
type Skipped struct {
	Reason string `json:"reason"`
}

// Outcome is the terminal result of processing one descriptor.
//
// Exactly one of Success, Failure, Skipped is set, matching Status. Use the
// Succeeded, Failed and SkippedFor constructors.
type Outcome struct {
	Descriptor FileDescriptor `json:"descriptor"`
	Status     Status         `json:"status"`
	Success    *Success       `json:"success,omitempty"`
	Failure    *Failure       `json:"failure,omitempty"`
	Skipped    *Skipped       `json:"skipped,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(d FileDescriptor, s Success) Outcome {
	return Outcome{Descriptor: d, Status: StatusSuccess, Success: &s}
}

// Failed builds a failure outcome.
func Failed(d FileDescriptor, kind ErrorKind, message string, duration time.Duration) Outcome {
	return Outcome{Descriptor: d, Status: StatusFailure, Failure: &Failure{Kind: kind, Message: message, Duration: duration}}
}

// SkippedFor builds a skipped outcome.
func SkippedFor(d FileDescriptor, reason string) Outcome {
	return Outcome{Descriptor: d, Status: StatusSkipped, Skipped: &Skipped{Reason: reason}}
}

// Duration returns the time spent on the descriptor, zero for skipped ones.
func (o Outcome) Duration() time.Duration {
	switch {
	case o.Success != nil:
		return o.Success.Duration
	case o.Failure != nil:
		return o.Failure.Duration
	default:
		return 0
	}
}

// Message returns a human-readable detail for the outcome.
func (o Outcome) Message() string {
	switch {
	case o.Failure != nil:
		return o.Failure.Message
	case o.Skipped != nil:
		return o.Skipped.Reason
	default:
		return ""
	}
}

// Valid reports whether exactly one payload is set and it matches Status.
func (o Outcome) Valid() bool {
	n := 0
	for _, set := range []bool{o.Success != nil, o.Failure != nil, o.Skipped != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return false
	}
	switch o.Status {
	case StatusSuccess:
		return o.Success != nil
	case StatusFailure:
		return o.Failure != nil
	case StatusSkipped:
		return o.Skipped != nil
	}
	return false
}
