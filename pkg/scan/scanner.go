// Package scan walks a source directory tree and yields a FileDescriptor for
// every file accepted by the run's filters.
//
// The walk is lazy, depth-first and ordered by entry name, so the sequence
// is reproducible for a fixed tree. Symlinked directories are followed;
// every directory is visited at most once, keyed by its canonical path, so
// symlink cycles terminate. Per-directory failures are yielded as *Error
// values and the walk continues.
package scan

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/match"
)

// Config configures a Scanner.
type Config struct {
	// Root is the source directory. Relative paths are resolved against the
	// working directory.
	Root string

	// Recursive descends into subdirectories. DefaultConfig sets it.
	Recursive bool

	// Matcher filters files and prunes directories. Nil uses a matcher that
	// accepts every non-hidden file.
	Matcher *match.Matcher

	// SkipDirs are directories never descended into, typically the output
	// and state directories when they live inside Root.
	SkipDirs []string

	// MaxSize skips files larger than this many bytes. Zero means no limit.
	MaxSize int64
}

// DefaultConfig returns a recursive configuration for root.
func DefaultConfig(root string) Config {
	return Config{Root: root, Recursive: true}
}

// Summary contains aggregate statistics from a scan.
type Summary struct {
	// DirsVisited is the number of directories read.
	DirsVisited int64

	// FilesMatched is the number of descriptors yielded.
	FilesMatched int64

	// FilesFiltered is the number of files rejected by the matcher or size
	// limit.
	FilesFiltered int64

	// BytesTotal is the cumulative size of matched files.
	BytesTotal int64

	// Errors is the number of scan errors yielded.
	Errors int64

	// Duration is the time spent walking.
	Duration time.Duration
}

// Scanner walks one source tree.
//
// A Scanner is single use: the sequence returned by Scan may be ranged over
// once; later iterations yield nothing.
type Scanner struct {
	root     string
	cfg      Config
	matcher  *match.Matcher
	skipDirs map[string]struct{}

	used atomic.Bool

	dirsVisited   atomic.Int64
	filesMatched  atomic.Int64
	filesFiltered atomic.Int64
	bytesTotal    atomic.Int64
	errorCount    atomic.Int64
	duration      atomic.Int64
}

// New creates a scanner.
//
// Returns an error if Root is empty, missing or not a directory.
func New(cfg Config) (*Scanner, error) {
	if cfg.Root == "" {
		return nil, errors.New("scan: root is required")
	}
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("scan: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("scan: root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan: root %s is not a directory", abs)
	}

	m := cfg.Matcher
	if m == nil {
		m, err = match.New(match.Config{})
		if err != nil {
			return nil, err
		}
	}

	skip := make(map[string]struct{}, len(cfg.SkipDirs))
	for _, dir := range cfg.SkipDirs {
		if dir == "" {
			continue
		}
		if canonical, ok := canonicalPath(dir); ok {
			skip[canonical] = struct{}{}
		}
	}

	return &Scanner{root: abs, cfg: cfg, matcher: m, skipDirs: skip}, nil
}

// Root returns the absolute source root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan returns the lazy sequence of descriptors.
//
// Each element is either a descriptor with a nil error, or a zero descriptor
// with a non-nil *Error. Iteration stops early when ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) iter.Seq2[job.FileDescriptor, error] {
	return func(yield func(job.FileDescriptor, error) bool) {
		if !s.used.CompareAndSwap(false, true) {
			return
		}
		start := time.Now()
		defer func() { s.duration.Store(int64(time.Since(start))) }()

		w := &walker{s: s, ctx: ctx, yield: yield, visited: make(map[string]struct{})}
		w.walkDir(s.root, "")
	}
}

// Summary returns the statistics gathered so far.
func (s *Scanner) Summary() Summary {
	return Summary{
		DirsVisited:   s.dirsVisited.Load(),
		FilesMatched:  s.filesMatched.Load(),
		FilesFiltered: s.filesFiltered.Load(),
		BytesTotal:    s.bytesTotal.Load(),
		Errors:        s.errorCount.Load(),
		Duration:      time.Duration(s.duration.Load()),
	}
}

type walker struct {
	s       *Scanner
	ctx     context.Context
	yield   func(job.FileDescriptor, error) bool
	visited map[string]struct{}
}

// walkDir returns false when iteration must stop.
func (w *walker) walkDir(abs, rel string) bool {
	if w.ctx.Err() != nil {
		return false
	}

	canonical, ok := canonicalPath(abs)
	if !ok {
		return w.fail(abs, rel, "resolve", fmt.Errorf("cannot resolve %s", abs))
	}
	if _, seen := w.visited[canonical]; seen {
		return true
	}
	w.visited[canonical] = struct{}{}
	if _, skip := w.s.skipDirs[canonical]; skip {
		return true
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return w.fail(abs, rel, "readdir", err)
	}
	w.s.dirsVisited.Add(1)

	for _, entry := range entries {
		if w.ctx.Err() != nil {
			return false
		}

		childAbs := filepath.Join(abs, entry.Name())
		childRel := entry.Name()
		if rel != "" {
			childRel = path.Join(rel, entry.Name())
		}

		info, err := entryInfo(entry, childAbs)
		if err != nil {
			if !w.fail(childAbs, childRel, "stat", err) {
				return false
			}
			continue
		}

		switch {
		case info.IsDir():
			if !w.s.cfg.Recursive || w.s.matcher.SkipDir(childRel) {
				continue
			}
			if !w.walkDir(childAbs, childRel) {
				return false
			}
		case info.Mode().IsRegular():
			if !w.file(childAbs, childRel, info) {
				return false
			}
		}
	}
	return true
}

func (w *walker) file(abs, rel string, info os.FileInfo) bool {
	if !w.s.matcher.Match(rel) {
		w.s.filesFiltered.Add(1)
		return true
	}
	if w.s.cfg.MaxSize > 0 && info.Size() > w.s.cfg.MaxSize {
		w.s.filesFiltered.Add(1)
		return true
	}

	tag := match.TypeTag(rel)
	d := job.FileDescriptor{
		SourcePath: abs,
		RelPath:    rel,
		TypeTag:    tag,
		MIMEType:   mimeType(tag),
		Size:       info.Size(),
	}
	w.s.filesMatched.Add(1)
	w.s.bytesTotal.Add(d.Size)
	return w.yield(d, nil)
}

func (w *walker) fail(abs, rel, op string, err error) bool {
	w.s.errorCount.Add(1)
	return w.yield(job.FileDescriptor{}, &Error{Path: abs, RelPath: rel, Op: op, Err: err})
}

// entryInfo stats the entry, following symlinks.
func entryInfo(entry os.DirEntry, abs string) (os.FileInfo, error) {
	if entry.Type()&os.ModeSymlink != 0 {
		return os.Stat(abs)
	}
	return entry.Info()
}

func canonicalPath(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Not yet created (e.g. an output directory); compare by absolute path.
		if os.IsNotExist(err) {
			return filepath.Clean(abs), true
		}
		return "", false
	}
	return resolved, true
}

func mimeType(tag string) string {
	if tag == "" {
		return ""
	}
	return mime.TypeByExtension("." + tag)
}
