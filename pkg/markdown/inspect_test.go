package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_Headings(t *testing.T) {
	src := []byte("## Intro\n\nSome text here.\n\n# Main *title*\n\nMore words follow.\n\nSetext\n------\n")

	info := Inspect(src)

	require.Len(t, info.Headings, 3)
	assert.Equal(t, Heading{Level: 2, Text: "Intro"}, info.Headings[0])
	assert.Equal(t, Heading{Level: 1, Text: "Main title"}, info.Headings[1])
	assert.Equal(t, Heading{Level: 2, Text: "Setext"}, info.Headings[2])
	assert.Equal(t, "Main title", info.Title)
	assert.True(t, info.HasLevel(1))
	assert.False(t, info.HasLevel(3))
}

func TestInspect_TitleFallsBackToFirstHeading(t *testing.T) {
	info := Inspect([]byte("### Notes\n\n## Later\n"))
	assert.Equal(t, "Notes", info.Title)
	assert.False(t, info.HasLevel(1))
}

func TestInspect_NoHeadings(t *testing.T) {
	info := Inspect([]byte("just a paragraph\n"))
	assert.Empty(t, info.Title)
	assert.Empty(t, info.Headings)
	assert.Equal(t, 3, info.Words)
}

func TestInspect_Words(t *testing.T) {
	src := []byte("# One two\n\nthree four five\n\n```go\nfunc main() {}\n```\n")
	info := Inspect(src)
	assert.Equal(t, 2+3+3, info.Words)
}

func TestInspect_HeadingInCodeBlockIgnored(t *testing.T) {
	info := Inspect([]byte("```\n# not a heading\n```\n"))
	assert.Empty(t, info.Headings)
}

func TestInspect_Empty(t *testing.T) {
	info := Inspect(nil)
	assert.Equal(t, Info{}, info)
}
