package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/tomd/pkg/convert"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/markdown"
	"github.com/3leaps/tomd/pkg/provider"
)

// process turns one descriptor into exactly one outcome. It never panics and
// never blocks past the task timeout.
func (s *Scheduler) process(ctx context.Context, d job.FileDescriptor) job.Outcome {
	if owner, ok := s.cfg.Collisions[d.Key()]; ok {
		return job.SkippedFor(d, job.CollisionReason(owner))
	}
	if s.cfg.DryRun {
		return job.SkippedFor(d, job.ReasonDryRun)
	}

	// In-flight work is not cut short by job cancellation; the task timeout
	// is its only bound.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TaskTimeout)
	defer cancel()

	start := s.now()
	key := d.OutputKey()

	if !s.cfg.Overwrite {
		_, err := s.sink.Head(taskCtx, key)
		switch {
		case err == nil:
			return job.SkippedFor(d, job.ReasonOutputExists)
		case errors.Is(err, context.DeadlineExceeded):
			return job.Failed(d, job.KindTimeout, "check output: "+err.Error(), s.since(start))
		case !provider.IsNotFound(err):
			return job.Failed(d, job.KindWriteError, "check output: "+err.Error(), s.since(start))
		}
	}

	md, err := s.convert(taskCtx, d)
	if err != nil {
		return job.Failed(d, convert.KindOf(err), err.Error(), s.since(start))
	}

	body := []byte(md)
	if err := s.sink.PutObject(taskCtx, key, bytes.NewReader(body), int64(len(body))); err != nil {
		kind := job.KindWriteError
		if errors.Is(err, context.DeadlineExceeded) {
			kind = job.KindTimeout
		}
		return job.Failed(d, kind, "write output: "+err.Error(), s.since(start))
	}

	return job.Succeeded(d, job.Success{
		OutputPath: provider.Location(s.sink, key),
		Duration:   s.since(start),
		Bytes:      int64(len(body)),
		Title:      markdown.Inspect(body).Title,
	})
}

type convertResult struct {
	md  string
	err error
}

// convert calls the adapter on its own goroutine so an adapter that ignores
// its context cannot hold the worker past the deadline. An abandoned call
// finishes in the background and its result is discarded.
func (s *Scheduler) convert(ctx context.Context, d job.FileDescriptor) (string, error) {
	ch := make(chan convertResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- convertResult{err: convert.Internalf("converter panicked: %v", r)}
			}
		}()
		md, err := s.adapter.Convert(ctx, d.SourcePath, d.TypeTag)
		ch <- convertResult{md: md, err: err}
	}()

	select {
	case r := <-ch:
		return r.md, r.err
	case <-ctx.Done():
		return "", &convert.Failure{
			Kind:    job.KindTimeout,
			Message: fmt.Sprintf("conversion exceeded %s", s.cfg.TaskTimeout),
			Err:     ctx.Err(),
		}
	}
}

func (s *Scheduler) since(start time.Time) time.Duration {
	return s.now().Sub(start)
}
