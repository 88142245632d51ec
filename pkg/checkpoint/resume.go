package checkpoint

import (
	"sort"
	"sync"
	"time"
)

// Plan is the result of reconciling a previous checkpoint with a fresh scan.
type Plan struct {
	// Completed are scanned keys that the previous checkpoint marked done.
	Completed []string

	// Pending are scanned keys that still need work.
	Pending []string

	// Dropped are previously completed keys missing from the fresh scan.
	Dropped []string
}

// Resume computes pending = keys − prev.Completed.
//
// Keys completed in prev but absent from keys are dropped; keys new to the
// scan are pending. Output existence is not consulted. A nil prev makes every
// key pending. Key order within Completed and Pending follows keys.
func Resume(prev *Record, keys []string) Plan {
	done := make(map[string]struct{})
	if prev != nil {
		for _, k := range prev.Completed {
			done[k] = struct{}{}
		}
	}

	plan := Plan{Completed: []string{}, Pending: []string{}}
	inScan := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := inScan[k]; dup {
			continue
		}
		inScan[k] = struct{}{}
		if _, ok := done[k]; ok {
			plan.Completed = append(plan.Completed, k)
		} else {
			plan.Pending = append(plan.Pending, k)
		}
	}

	if prev != nil {
		for _, k := range prev.Completed {
			if _, ok := inScan[k]; !ok {
				plan.Dropped = append(plan.Dropped, k)
			}
		}
	}
	return plan
}

// Mirror is the in-memory copy of the checkpoint kept while a job runs.
//
// Mirror is safe for concurrent use.
type Mirror struct {
	mu        sync.Mutex
	completed map[string]struct{}
	pending   map[string]struct{}
	now       func() time.Time
}

// NewMirror seeds a mirror from a resume plan.
func NewMirror(plan Plan) *Mirror {
	m := &Mirror{
		completed: make(map[string]struct{}, len(plan.Completed)),
		pending:   make(map[string]struct{}, len(plan.Pending)),
		now:       time.Now,
	}
	for _, k := range plan.Completed {
		m.completed[k] = struct{}{}
	}
	for _, k := range plan.Pending {
		m.pending[k] = struct{}{}
	}
	return m
}

// MarkCompleted moves key from pending to completed.
//
// Returns false if the key was already completed, so a key is never recorded
// twice.
func (m *Mirror) MarkCompleted(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.completed[key]; ok {
		return false
	}
	delete(m.pending, key)
	m.completed[key] = struct{}{}
	return true
}

// IsCompleted reports whether key is recorded as completed.
func (m *Mirror) IsCompleted(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.completed[key]
	return ok
}

// Counts returns the number of completed and pending keys.
func (m *Mirror) Counts() (completed, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed), len(m.pending)
}

// Record returns a sorted, timestamped copy of the mirror.
func (m *Mirror) Record() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Record{
		Timestamp: float64(m.now().UnixNano()) / 1e9,
		Completed: sortedKeys(m.completed),
		Pending:   sortedKeys(m.pending),
	}
	return rec
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
