package handlers

import (
	"net/http"
	"time"

	"github.com/3leaps/tomd/internal/server/middleware"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/report"
)

// Job phases reported by /status.
const (
	PhaseStarting    = "starting"
	PhaseRunning     = "running"
	PhaseFinished    = "finished"
	PhaseInterrupted = "interrupted"
)

// Source exposes the running job.
type Source interface {
	JobID() string

	// Snapshot returns the current state, and false until conversion has
	// started.
	Snapshot() (job.Snapshot, bool)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	JobID          string  `json:"job_id"`
	Phase          string  `json:"phase"`
	Total          int     `json:"total"`
	Success        int     `json:"success"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	Pending        int     `json:"pending"`
	InFlight       int     `json:"in_flight"`
	PeakInFlight   int     `json:"peak_in_flight"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// StatusHandler serves GET /status.
func StatusHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{JobID: src.JobID(), Phase: PhaseStarting}
		snap, ok := src.Snapshot()
		if ok {
			resp.Phase = phaseOf(snap)
			resp.Total = snap.Total
			resp.Success = snap.Success
			resp.Failed = snap.Failed
			resp.Skipped = snap.Skipped
			resp.Pending = snap.Pending()
			resp.InFlight = snap.InFlight
			resp.PeakInFlight = snap.PeakInFlight
			resp.ElapsedSeconds = snap.Elapsed.Seconds()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ReportHandler serves GET /report: the report as it would be written now.
func ReportHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := src.Snapshot()
		if !ok {
			middleware.WriteError(w, r, http.StatusServiceUnavailable, middleware.CodeServiceUnavailable,
				"conversion has not started", nil)
			return
		}
		writeJSON(w, http.StatusOK, report.Build(src.JobID(), snap, time.Now()))
	}
}

// VersionHandler serves GET /version.
func VersionHandler(v VersionResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, v)
	}
}

func phaseOf(s job.Snapshot) string {
	switch {
	case s.Interrupted:
		return PhaseInterrupted
	case s.Finished:
		return PhaseFinished
	default:
		return PhaseRunning
	}
}
