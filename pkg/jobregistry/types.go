package jobregistry

import "time"

// JobState is the lifecycle state of a recorded conversion run.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateRunning     JobState = "running"
	JobStateSuccess     JobState = "success"
	JobStatePartial     JobState = "partial"
	JobStateFailed      JobState = "failed"
	JobStateInterrupted JobState = "interrupted"
	JobStateUnknown     JobState = "unknown"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSuccess, JobStatePartial, JobStateFailed, JobStateInterrupted:
		return true
	}
	return false
}

// Counts summarises outcomes of a finished run.
type Counts struct {
	Scanned int `json:"scanned"`
	Resumed int `json:"resumed"`
	Total   int `json:"total"`
	Success int `json:"success"`
	Failure int `json:"failure"`
	Skipped int `json:"skipped"`
	Pending int `json:"pending"`
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID   string   `json:"job_id"`
	State   JobState `json:"state"`
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	Backend string   `json:"backend,omitempty"`
	PID     int      `json:"pid,omitempty"`

	StateDir       string `json:"state_dir,omitempty"`
	CheckpointPath string `json:"checkpoint_path,omitempty"`
	JournalPath    string `json:"journal_path,omitempty"`
	ReportLocation string `json:"report_location,omitempty"`
	LogPath        string `json:"log_path,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Counts *Counts `json:"counts,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Finish stamps the record with its final state.
func (r *JobRecord) Finish(state JobState, at time.Time) {
	at = at.UTC()
	r.State = state
	r.EndedAt = &at
	r.PID = 0
}
