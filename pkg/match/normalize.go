// Package match decides which files under a source root take part in a
// conversion run.
//
// Paths are matched in their slash-separated form relative to the source
// root, using doublestar glob semantics for include/exclude patterns and
// gitignore semantics for ignore files.
package match

import (
	"path/filepath"
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizeRelPath converts an OS-specific relative path to the
// slash-separated form used for matching and checkpoint keys.
func NormalizeRelPath(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimPrefix(rel, "./")
}

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows users can write
// "docs\2024\sub/**"; escaped metacharacters (\*, \?, \[ ...) are kept,
// so a backslash directly before a * is an escape, not a separator.
//
//	"docs/2024/**"       → "docs/2024/**"
//	"docs\2024\sub/**"   → "docs/2024/sub/**"
//	"docs\2024\**"       → "docs/2024\**"
//	"docs/file\*.txt"    → "docs/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
//	"docs/report.pdf"        → false
//	".git/config"            → true
//	"docs/.drafts/a.md"      → true
//	"docs/report.pdf."       → false
func IsHidden(rel string) bool {
	if rel == "" {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// TypeTag returns the lower-case extension of name without the leading dot.
func TypeTag(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
