// Package markdown extracts document structure from converted Markdown.
//
// Converters hand back free-form Markdown; Inspect parses it with goldmark
// (GFM dialect) so outcomes and reports can carry a title and a rough size
// without trusting the converter to supply them.
package markdown

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Heading is one ATX or setext heading.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Info summarises a Markdown document.
type Info struct {
	// Title is the text of the first heading, preferring level 1.
	Title string `json:"title,omitempty"`

	Headings []Heading `json:"headings,omitempty"`

	// Words counts whitespace-separated words in text and code.
	Words int `json:"words"`
}

// HasLevel reports whether the document has a heading at level.
func (i Info) HasLevel(level int) bool {
	for _, h := range i.Headings {
		if h.Level == level {
			return true
		}
	}
	return false
}

var engine = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Inspect parses src and returns its structure. It never fails: goldmark
// accepts any input as Markdown.
func Inspect(src []byte) Info {
	doc := engine.Parser().Parse(text.NewReader(src))

	var info Info
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			info.Headings = append(info.Headings, Heading{
				Level: node.Level,
				Text:  strings.TrimSpace(plainText(node, src)),
			})
		case *ast.Text:
			info.Words += len(strings.Fields(string(node.Segment.Value(src))))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				info.Words += len(strings.Fields(string(seg.Value(src))))
			}
		}
		return ast.WalkContinue, nil
	})

	info.Title = pickTitle(info.Headings)
	return info
}

func pickTitle(headings []Heading) string {
	for _, h := range headings {
		if h.Level == 1 && h.Text != "" {
			return h.Text
		}
	}
	for _, h := range headings {
		if h.Text != "" {
			return h.Text
		}
	}
	return ""
}

// plainText concatenates the text segments under n.
func plainText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
