package match

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultIgnoreFile is the ignore file looked up at the source root.
const DefaultIgnoreFile = ".tomdignore"

// Matcher evaluates relative source paths against the run's filters.
//
// A path is accepted when it:
//   - matches at least one include pattern (default "**")
//   - matches no exclude pattern
//   - is not matched by the ignore file
//   - is not hidden (unless IncludeHidden is true)
//   - has an accepted type tag (when Types is non-empty)
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	types         map[string]struct{}
	ignore        *gitignore.GitIgnore
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a path must match (at least one).
	// Default: ["**"].
	Includes []string

	// Excludes are glob patterns a path must not match.
	Excludes []string

	// Types are accepted type tags (extensions without dot, any case).
	// Empty accepts every type.
	Types []string

	// IgnoreLines are gitignore-style lines, usually read from an ignore file.
	IgnoreLines []string

	// IncludeHidden controls whether dot-files and dot-directories are
	// considered. Default: false.
	IncludeHidden bool
}

// Errors returned by Matcher construction.
var (
	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrInvalidType is returned for an empty or malformed type tag.
	ErrInvalidType = errors.New("invalid file type")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher from the given configuration.
func New(cfg Config) (*Matcher, error) {
	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	if len(includes) == 0 {
		includes = []string{"**"}
	}

	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	types, err := ParseTypes(cfg.Types)
	if err != nil {
		return nil, err
	}

	var ignore *gitignore.GitIgnore
	if lines := cleanIgnoreLines(cfg.IgnoreLines); len(lines) > 0 {
		ignore = gitignore.CompileIgnoreLines(lines...)
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		types:         types,
		ignore:        ignore,
		includeHidden: cfg.IncludeHidden,
	}, nil
}

// ParseTypes normalises type tags: trims whitespace and leading dots, lower
// cases, splits comma lists and de-duplicates. An empty result accepts all
// types.
func ParseTypes(raw []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			tag := strings.ToLower(strings.TrimSpace(part))
			tag = strings.TrimLeft(tag, ".")
			if tag == "" {
				continue
			}
			if strings.ContainsAny(tag, "/\\ *?") {
				return nil, fmt.Errorf("%w: %q", ErrInvalidType, part)
			}
			out[tag] = struct{}{}
		}
	}
	return out, nil
}

// Match returns true if the file at the relative path rel is accepted.
func (m *Matcher) Match(rel string) bool {
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	if len(m.types) > 0 {
		if _, ok := m.types[TypeTag(rel)]; !ok {
			return false
		}
	}
	if m.ignore != nil && m.ignore.MatchesPath(rel) {
		return false
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, rel) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, rel) {
			return false
		}
	}
	return true
}

// SkipDir returns true if the directory at rel cannot contain accepted
// files and should not be descended into.
//
// Only hidden and ignored directories are pruned; include/exclude globs are
// evaluated against files because "**" patterns may match below any
// directory.
func (m *Matcher) SkipDir(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	if !m.includeHidden && IsHidden(rel) {
		return true
	}
	if m.ignore != nil && m.ignore.MatchesPath(rel+"/") {
		return true
	}
	return false
}

// Types returns the accepted type tags in sorted order.
func (m *Matcher) Types() []string {
	out := make([]string, 0, len(m.types))
	for t := range m.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// IncludePatterns returns the normalised include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalised exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// ReadIgnoreFile reads gitignore-style lines from path.
//
// A missing file yields no lines and no error.
func ReadIgnoreFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return cleanIgnoreLines(strings.Split(string(b), "\n")), nil
}

func cleanIgnoreLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func compile(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		normalized := NormalizePattern(raw)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// matchPattern matches a path against a doublestar pattern.
func matchPattern(pattern, rel string) bool {
	matched, err := doublestar.Match(pattern, rel)
	if err != nil {
		return false
	}
	return matched
}
