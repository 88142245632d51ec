package job

import (
	"sync"
	"time"
)

// State is the in-memory aggregate of a run.
//
// State is owned by the scheduler. Outcomes are folded in through Record;
// readers (status endpoint, partial reports) use Snapshot. All methods are
// safe for concurrent use.
type State struct {
	mu sync.Mutex

	started  time.Time
	total    int
	success  int
	failed   int
	skipped  int
	outcomes []Outcome

	inFlight     int
	peakInFlight int

	ended       time.Time
	interrupted bool
}

// NewState creates a State expecting total descriptors.
func NewState(total int, started time.Time) *State {
	return &State{total: total, started: started, outcomes: make([]Outcome, 0, total)}
}

// Record folds one outcome into the state.
func (s *State) Record(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes = append(s.outcomes, o)
	switch o.Status {
	case StatusSuccess:
		s.success++
	case StatusFailure:
		s.failed++
	case StatusSkipped:
		s.skipped++
	}
}

// Dispatched marks a descriptor as handed to a worker.
func (s *State) Dispatched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight++
	if s.inFlight > s.peakInFlight {
		s.peakInFlight = s.inFlight
	}
}

// Released marks a worker as done with a descriptor.
func (s *State) Released() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
}

// Finish stamps the end of the run.
func (s *State) Finish(at time.Time, interrupted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = at
	s.interrupted = interrupted
}

// Snapshot is a consistent, immutable copy of State.
type Snapshot struct {
	Total        int
	Success      int
	Failed       int
	Skipped      int
	InFlight     int
	PeakInFlight int
	Elapsed      time.Duration
	Interrupted  bool
	Finished     bool
	Outcomes     []Outcome
}

// Done is the number of descriptors with an outcome.
func (s Snapshot) Done() int {
	return s.Success + s.Failed + s.Skipped
}

// Pending is the number of descriptors without an outcome.
func (s Snapshot) Pending() int {
	if p := s.Total - s.Done(); p > 0 {
		return p
	}
	return 0
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.ended
	if end.IsZero() {
		end = time.Now()
	}
	outcomes := make([]Outcome, len(s.outcomes))
	copy(outcomes, s.outcomes)

	return Snapshot{
		Total:        s.total,
		Success:      s.success,
		Failed:       s.failed,
		Skipped:      s.skipped,
		InFlight:     s.inFlight,
		PeakInFlight: s.peakInFlight,
		Elapsed:      end.Sub(s.started),
		Interrupted:  s.interrupted,
		Finished:     !s.ended.IsZero(),
		Outcomes:     outcomes,
	}
}
