package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"glob pattern", "docs/**/*.pdf", "docs/**/*.pdf"},
		{"backslashes converted", "docs\\2024\\a.pdf", "docs/2024/a.pdf"},
		{"trailing backslash", "docs\\2024\\", "docs/2024/"},
		{"escaped asterisk", "docs/file\\*.txt", "docs/file\\*.txt"},
		{"escaped bracket", "docs/file\\[0-9\\].txt", "docs/file\\[0-9\\].txt"},
		{"windows path with escape", "docs\\2024\\file\\*.txt", "docs/2024/file\\*.txt"},
		{"windows directories before globstar", "docs\\2024\\sub/**", "docs/2024/sub/**"},
		{"backslash before globstar stays escape", "docs\\2024\\**", "docs/2024\\**"},
		{"single backslash", "\\", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePattern(tt.input))
		})
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name     string
		rel      string
		expected bool
	}{
		{"empty string", "", false},
		{"regular file", "docs/report.pdf", false},
		{"hidden file", "docs/.hidden", true},
		{"hidden directory", ".git/config", true},
		{"hidden in middle", "a/.cache/b.txt", true},
		{"dot at end", "docs/report.pdf.", false},
		{"underscore", "_build/a.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsHidden(tt.rel))
		})
	}
}

func TestTypeTag(t *testing.T) {
	assert.Equal(t, "pdf", TypeTag("a/b/Report.PDF"))
	assert.Equal(t, "gz", TypeTag("archive.tar.gz"))
	assert.Equal(t, "", TypeTag("Makefile"))
}

func TestNormalizeRelPath(t *testing.T) {
	assert.Equal(t, "a/b.txt", NormalizeRelPath("./a/b.txt"))
	assert.Equal(t, "a/b.txt", NormalizeRelPath("a/b.txt"))
}
