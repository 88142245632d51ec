// Package report builds the end-of-job conversion report.
//
// A Report is a pure function of a job.Snapshot: building twice from the
// same snapshot yields the same report. Reports are persisted through the
// output sink so local and S3 targets are handled alike.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/output"
	"github.com/3leaps/tomd/pkg/provider"
)

// Dir is the key prefix reports are written under.
const Dir = "logs"

// Summary aggregates outcome counts.
type Summary struct {
	Total           int     `json:"total"`
	Success         int     `json:"success"`
	Failure         int     `json:"failure"`
	Skipped         int     `json:"skipped"`
	Pending         int     `json:"pending"`
	Interrupted     bool    `json:"interrupted"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Entry is the report line for one processed file.
type Entry struct {
	RelativePath    string  `json:"relative_path"`
	Status          string  `json:"status"`
	Kind            string  `json:"kind,omitempty"`
	Message         string  `json:"message"`
	OutputPath      string  `json:"output_path,omitempty"`
	Title           string  `json:"title,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Report is the persisted summary of a job.
type Report struct {
	JobID       string    `json:"job_id,omitempty"`
	Summary     Summary   `json:"summary"`
	Results     []Entry   `json:"results"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Build creates a report from a state snapshot. Results keep completion order.
func Build(jobID string, snap job.Snapshot, generatedAt time.Time) *Report {
	r := &Report{
		JobID: jobID,
		Summary: Summary{
			Total:           snap.Total,
			Success:         snap.Success,
			Failure:         snap.Failed,
			Skipped:         snap.Skipped,
			Pending:         snap.Pending(),
			Interrupted:     snap.Interrupted,
			DurationSeconds: seconds(snap.Elapsed),
		},
		Results:     make([]Entry, 0, len(snap.Outcomes)),
		GeneratedAt: generatedAt.UTC(),
	}
	for _, o := range snap.Outcomes {
		r.Results = append(r.Results, entryFor(o))
	}
	return r
}

func entryFor(o job.Outcome) Entry {
	e := Entry{
		RelativePath:    o.Descriptor.RelPath,
		Status:          string(o.Status),
		Message:         o.Message(),
		DurationSeconds: seconds(o.Duration()),
	}
	switch {
	case o.Success != nil:
		e.OutputPath = o.Success.OutputPath
		e.Title = o.Success.Title
	case o.Failure != nil:
		e.Kind = string(o.Failure.Kind)
	}
	return e
}

func seconds(d time.Duration) float64 {
	// Millisecond precision keeps the JSON readable.
	return float64(d.Round(time.Millisecond)) / float64(time.Second)
}

// Failures returns the failed entries sorted by path.
func (r *Report) Failures() []Entry {
	var out []Entry
	for _, e := range r.Results {
		if e.Status == string(job.StatusFailure) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

// FailuresByKind counts failures per error kind.
func (r *Report) FailuresByKind() map[string]int {
	out := make(map[string]int)
	for _, e := range r.Results {
		if e.Status == string(job.StatusFailure) {
			out[e.Kind]++
		}
	}
	return out
}

// Key returns the sink key for the report of job jobID generated at t:
// logs/tomd_report_<UTC timestamp>_<job id prefix>.json. The prefix keeps
// reports of jobs finishing in the same second apart.
func Key(jobID string, t time.Time) string {
	name := "tomd_report_" + t.UTC().Format("20060102_150405")
	if id := keyID(jobID); id != "" {
		name += "_" + id
	}
	return path.Join(Dir, name+".json")
}

// keyID returns up to the first 8 file-name safe characters of a job ID.
func keyID(jobID string) string {
	var b strings.Builder
	for _, r := range jobID {
		if b.Len() == 8 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Marshal encodes the report as indented JSON.
func (r *Report) Marshal() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(b, '\n'), nil
}

// Write persists r to sink under key.
func Write(ctx context.Context, sink provider.Sink, key string, r *Report) error {
	b, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := sink.PutObject(ctx, key, bytes.NewReader(b), int64(len(b))); err != nil {
		return fmt.Errorf("write report %s: %w", key, err)
	}
	return nil
}

// FromJournal rebuilds a report from a JSONL journal.
//
// It recovers what a crashed or interrupted job got through: outcomes are
// replayed in journal order and the summary record, when present, supplies
// the total and duration. Without one the report is marked interrupted and
// the total is the larger of the last progress total and the outcome count.
func FromJournal(r io.Reader) (*Report, error) {
	var (
		jobID    string
		total    int
		elapsed  time.Duration
		summary  *output.SummaryRecord
		lastTS   time.Time
		outcomes []job.Outcome
	)

	err := output.ReadRecords(r, func(rec output.Record) error {
		if jobID == "" {
			jobID = rec.JobID
		}
		if rec.TS.After(lastTS) {
			lastTS = rec.TS
		}
		switch rec.Type {
		case output.TypeOutcome:
			var o output.OutcomeRecord
			if err := output.DecodeData(rec, &o); err != nil {
				return err
			}
			outcomes = append(outcomes, o.Outcome())
		case output.TypeProgress:
			var p output.ProgressRecord
			if err := output.DecodeData(rec, &p); err != nil {
				return err
			}
			if p.Total > total {
				total = p.Total
			}
			if p.Elapsed > elapsed {
				elapsed = p.Elapsed
			}
		case output.TypeSummary:
			var s output.SummaryRecord
			if err := output.DecodeData(rec, &s); err != nil {
				return err
			}
			summary = &s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	snap := job.Snapshot{Outcomes: outcomes, Interrupted: true, Elapsed: elapsed}
	for _, o := range outcomes {
		switch o.Status {
		case job.StatusSuccess:
			snap.Success++
		case job.StatusFailure:
			snap.Failed++
		case job.StatusSkipped:
			snap.Skipped++
		}
	}
	snap.Total = total
	if summary != nil {
		snap.Total = summary.Total
		snap.Interrupted = summary.Interrupted
		snap.Elapsed = summary.Duration
	}
	if snap.Total < len(outcomes) {
		snap.Total = len(outcomes)
	}

	return Build(jobID, snap, lastTS), nil
}
