// Package scheduler runs conversions over a bounded worker pool.
//
// A Scheduler admits descriptors from a single feeder goroutine through an
// unbuffered channel to k workers. Every worker sends exactly one outcome
// per descriptor it takes on, and the outcomes are folded into a job.State on
// the goroutine that called Run. The fold is the only writer of the state,
// the checkpoint mirror and the journal, so no two outcomes are ever folded
// at once.
//
// Cancelling the Run context stops admission. Tasks already running finish
// on a context detached from the job (bounded by the task timeout), their
// outcomes are folded, and the checkpoint is flushed one last time before Run
// returns.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/tomd/pkg/checkpoint"
	"github.com/3leaps/tomd/pkg/convert"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/output"
	"github.com/3leaps/tomd/pkg/provider"
)

// Admission orders.
const (
	// OrderSize admits the smallest files first.
	OrderSize = "size"

	// OrderScan admits files in scan order.
	OrderScan = "scan"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("scheduler: already run")

// Config configures scheduler behavior.
type Config struct {
	// Concurrency is the number of workers.
	// Default: 4
	Concurrency int

	// TaskTimeout bounds a single conversion, including the existence check
	// and the output write.
	// Default: 5m
	TaskTimeout time.Duration

	// DryRun records every descriptor as skipped without calling the
	// converter, writing output or touching the checkpoint.
	DryRun bool

	// Overwrite replaces existing outputs instead of skipping them.
	Overwrite bool

	// Collisions maps a descriptor key to the relative path that owns its
	// output key (see job.OutputCollisions). Those descriptors are skipped
	// and stay pending in the checkpoint.
	Collisions map[string]string

	// CheckpointEvery persists the checkpoint after this many outcomes.
	// Default: 10
	CheckpointEvery int

	// CheckpointInterval persists the checkpoint when this much time has
	// passed since the last save.
	// Default: 30s
	CheckpointInterval time.Duration

	// RateLimit is the maximum number of admissions per second.
	// Zero means unlimited.
	RateLimit float64

	// Order is OrderSize or OrderScan.
	// Default: OrderSize
	Order string

	// ProgressEvery controls how often progress records are journaled.
	// Default: 50
	ProgressEvery int
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:        4,
		TaskTimeout:        5 * time.Minute,
		CheckpointEvery:    10,
		CheckpointInterval: 30 * time.Second,
		Order:              OrderSize,
		ProgressEvery:      50,
	}
}

// CheckpointSaver persists checkpoint records. *checkpoint.Store implements it.
type CheckpointSaver interface {
	Save(*checkpoint.Record) error
}

var _ CheckpointSaver = (*checkpoint.Store)(nil)

// Option configures optional scheduler collaborators.
type Option func(*Scheduler)

// WithJournal writes one outcome record per fold and periodic progress
// records to w.
func WithJournal(w output.Writer) Option {
	return func(s *Scheduler) { s.journal = w }
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCheckpointStore persists the mirror through store.
func WithCheckpointStore(store CheckpointSaver) Option {
	return func(s *Scheduler) { s.store = store }
}

// Scheduler executes one conversion job.
//
// Scheduler is safe for single use only. Create a new Scheduler for each job.
type Scheduler struct {
	cfg     Config
	adapter convert.Adapter
	sink    provider.Sink
	mirror  *checkpoint.Mirror
	store   CheckpointSaver
	journal output.Writer
	log     *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time

	started atomic.Bool
	state   atomic.Pointer[job.State]

	saves      atomic.Int64
	saveErrors atomic.Int64
}

// New creates a scheduler.
//
// Parameters:
//   - cfg: Scheduler configuration (use DefaultConfig() as base)
//   - a: Converter called once per admitted descriptor
//   - sink: Destination for converted Markdown
//   - mirror: Checkpoint mirror updated as outcomes are folded; may be nil
func New(cfg Config, a convert.Adapter, sink provider.Sink, mirror *checkpoint.Mirror, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = def.CheckpointEvery
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = def.CheckpointInterval
	}
	if cfg.Order == "" {
		cfg.Order = def.Order
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}

	s := &Scheduler{
		cfg:     cfg,
		adapter: a,
		sink:    sink,
		mirror:  mirror,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Snapshot returns the live job state. It is the zero Snapshot before Run.
func (s *Scheduler) Snapshot() job.Snapshot {
	if st := s.state.Load(); st != nil {
		return st.Snapshot()
	}
	return job.Snapshot{}
}

// Saves returns the number of successful checkpoint saves.
func (s *Scheduler) Saves() int64 {
	return s.saves.Load()
}

// SaveErrors returns the number of failed checkpoint saves.
func (s *Scheduler) SaveErrors() int64 {
	return s.saveErrors.Load()
}

// Run processes descriptors and returns the final state.
//
// Each descriptor admitted to a worker yields exactly one outcome. When ctx
// is cancelled, Run stops admitting work, waits for in-flight tasks, flushes
// the checkpoint and returns the partial state together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, descs []job.FileDescriptor) (*job.State, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	state := job.NewState(len(descs), s.now())
	s.state.Store(state)

	queue := s.order(descs)
	work := make(chan job.FileDescriptor)
	results := make(chan job.Outcome)

	go s.feed(ctx, queue, work)

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				// Admission closes the moment the job is cancelled, even for
				// a descriptor already handed over by the feeder.
				if ctx.Err() != nil {
					continue
				}
				state.Dispatched()
				o := s.process(ctx, d)
				state.Released()
				results <- o
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	s.log.Info("conversion started",
		zap.Int("files", len(descs)),
		zap.Int("concurrency", s.cfg.Concurrency),
		zap.Duration("task_timeout", s.cfg.TaskTimeout),
		zap.Bool("dry_run", s.cfg.DryRun),
	)

	s.fold(ctx, state, results)

	// A cancellation that lands after the last outcome interrupted nothing.
	interrupted := ctx.Err() != nil && state.Snapshot().Done() < len(descs)
	state.Finish(s.now(), interrupted)
	s.persist("final")

	snap := state.Snapshot()
	s.writeProgress(output.PhaseComplete, snap)
	s.log.Info("conversion finished",
		zap.Int("success", snap.Success),
		zap.Int("failed", snap.Failed),
		zap.Int("skipped", snap.Skipped),
		zap.Int("pending", snap.Pending()),
		zap.Int("peak_in_flight", snap.PeakInFlight),
		zap.Duration("elapsed", snap.Elapsed),
		zap.Bool("interrupted", interrupted),
	)

	if interrupted {
		return state, ctx.Err()
	}
	return state, nil
}

// feed admits descriptors until the queue is exhausted or ctx is done.
func (s *Scheduler) feed(ctx context.Context, queue []job.FileDescriptor, work chan<- job.FileDescriptor) {
	defer close(work)
	for _, d := range queue {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case work <- d:
		}
	}
}

// fold consumes outcomes until every worker has returned.
func (s *Scheduler) fold(ctx context.Context, state *job.State, results <-chan job.Outcome) {
	sinceSave := 0
	lastSave := s.now()
	folded := 0

	for o := range results {
		state.Record(o)
		folded++
		s.logOutcome(o)

		if s.journal != nil {
			// The journal outlives job cancellation so the last outcomes
			// of an interrupted run are not lost.
			if err := s.journal.WriteOutcome(context.WithoutCancel(ctx), output.NewOutcomeRecord(o)); err != nil {
				s.log.Warn("journal write failed", zap.String("path", o.Descriptor.RelPath), zap.Error(err))
			}
		}

		if folded%s.cfg.ProgressEvery == 0 {
			s.writeProgress(output.PhaseConverting, state.Snapshot())
		}

		if s.cfg.DryRun || s.mirror == nil {
			continue
		}
		if marksCompleted(o) {
			s.mirror.MarkCompleted(o.Descriptor.Key())
		}
		sinceSave++
		if sinceSave >= s.cfg.CheckpointEvery || s.now().Sub(lastSave) >= s.cfg.CheckpointInterval {
			s.persist("periodic")
			sinceSave = 0
			lastSave = s.now()
		}
	}
}

// marksCompleted reports whether o settles its key for future runs.
// Failures stay pending so the next run retries them.
func marksCompleted(o job.Outcome) bool {
	switch o.Status {
	case job.StatusSuccess:
		return true
	case job.StatusSkipped:
		return o.Skipped.Reason == job.ReasonOutputExists
	}
	return false
}

// persist saves the mirror. Save failures are logged and counted; the job
// carries on with the previous checkpoint still on disk.
func (s *Scheduler) persist(reason string) {
	if s.cfg.DryRun || s.mirror == nil || s.store == nil {
		return
	}
	rec := s.mirror.Record()
	if err := s.store.Save(rec); err != nil {
		s.saveErrors.Add(1)
		s.log.Warn("checkpoint save failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.saves.Add(1)
	s.log.Debug("checkpoint saved",
		zap.String("reason", reason),
		zap.Int("completed", len(rec.Completed)),
		zap.Int("pending", len(rec.Pending)),
	)
}

func (s *Scheduler) writeProgress(phase string, snap job.Snapshot) {
	if s.journal == nil {
		return
	}
	if err := s.journal.WriteProgress(context.Background(), output.NewProgressRecord(phase, snap)); err != nil {
		s.log.Warn("journal write failed", zap.String("phase", phase), zap.Error(err))
	}
}

func (s *Scheduler) logOutcome(o job.Outcome) {
	fields := []zap.Field{
		zap.String("path", o.Descriptor.RelPath),
		zap.String("status", string(o.Status)),
		zap.Duration("duration", o.Duration()),
	}
	switch o.Status {
	case job.StatusFailure:
		s.log.Warn("conversion failed", append(fields,
			zap.String("kind", string(o.Failure.Kind)),
			zap.String("message", o.Failure.Message),
		)...)
	case job.StatusSkipped:
		s.log.Debug("file skipped", append(fields, zap.String("reason", o.Skipped.Reason))...)
	default:
		s.log.Debug("file converted", append(fields, zap.String("output", o.Success.OutputPath))...)
	}
}

// order returns the admission queue without modifying descs.
func (s *Scheduler) order(descs []job.FileDescriptor) []job.FileDescriptor {
	queue := make([]job.FileDescriptor, len(descs))
	copy(queue, descs)
	if s.cfg.Order == OrderSize {
		sort.SliceStable(queue, func(i, j int) bool { return queue[i].Size < queue[j].Size })
	}
	return queue
}
