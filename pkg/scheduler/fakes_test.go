package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/3leaps/tomd/pkg/checkpoint"
	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/provider"
)

// memSink is an in-memory provider.Sink.
type memSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	putErr  error
	headErr error
}

func newMemSink() *memSink {
	return &memSink{objects: make(map[string][]byte)}
}

func (m *memSink) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headErr != nil {
		return nil, m.headErr
	}
	b, ok := m.objects[key]
	if !ok {
		return nil, &provider.ProviderError{Op: "Head", Provider: "mem", Key: key, Err: provider.ErrNotFound}
	}
	return &provider.ObjectMeta{Key: key, Size: int64(len(b))}, nil
}

func (m *memSink) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	m.puts++
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) Location(key string) string { return "mem://" + key }

func (m *memSink) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

func (m *memSink) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// memSaver records every saved checkpoint.
type memSaver struct {
	mu      sync.Mutex
	records []*checkpoint.Record
	err     error
}

func (s *memSaver) Save(rec *checkpoint.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memSaver) last() *checkpoint.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return nil
	}
	return s.records[len(s.records)-1]
}

var errSaveFailed = errors.New("disk full")

// callCounter counts adapter calls per source path.
type callCounter struct {
	mu    sync.Mutex
	calls map[string]int
	order []string
}

func newCallCounter() *callCounter {
	return &callCounter{calls: make(map[string]int)}
}

func (c *callCounter) add(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[path]++
	c.order = append(c.order, path)
	return len(c.order)
}

func (c *callCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

func (c *callCounter) snapshot() (map[string]int, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make(map[string]int, len(c.calls))
	for k, v := range c.calls {
		calls[k] = v
	}
	return calls, append([]string(nil), c.order...)
}

func descriptors(n int) []job.FileDescriptor {
	out := make([]job.FileDescriptor, n)
	for i := range out {
		rel := fmt.Sprintf("dir%d/file%02d.txt", i%3, i)
		out[i] = job.FileDescriptor{SourcePath: "/src/" + rel, RelPath: rel, TypeTag: "txt", Size: int64(100 + i)}
	}
	return out
}

func keysOf(descs []job.FileDescriptor) []string {
	keys := make([]string, len(descs))
	for i, d := range descs {
		keys[i] = d.Key()
	}
	return keys
}

func freshMirror(descs []job.FileDescriptor) *checkpoint.Mirror {
	return checkpoint.NewMirror(checkpoint.Resume(nil, keysOf(descs)))
}
