package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/go-enry/go-enry/v2"

	"github.com/3leaps/tomd/pkg/job"
	"github.com/3leaps/tomd/pkg/markdown"
)

// DefaultTextMaxBytes bounds the size of files the Text adapter loads.
const DefaultTextMaxBytes int64 = 32 << 20

var (
	markdownFormats = []string{"md", "markdown", "mdown", "mkd"}
	plainFormats    = []string{"txt", "text", "log", "rst"}
	tableFormats    = []string{"csv", "tsv"}
	htmlFormats     = []string{"html", "htm", "xhtml"}
	dataFormats     = []string{"json", "yaml", "yml", "xml", "toml", "ini", "cfg", "conf"}
	codeFormats     = []string{
		"go", "py", "js", "ts", "jsx", "tsx", "java", "c", "h", "cpp", "hpp", "cc",
		"cs", "rb", "rs", "php", "swift", "kt", "scala", "sh", "bash", "zsh", "sql",
		"css", "scss", "lua", "r", "pl", "proto",
	}
)

// Text converts text-family files: Markdown, plain text, delimited tables,
// HTML, structured data and source code.
//
// Binary content is rejected with unsupported-format regardless of the
// extension.
type Text struct {
	// MaxBytes rejects larger files. Zero uses DefaultTextMaxBytes.
	MaxBytes int64
}

var _ Adapter = (*Text)(nil)

// NewText creates a Text adapter with default limits.
func NewText() *Text {
	return &Text{}
}

// Formats returns the type tags the adapter handles.
func (t *Text) Formats() []string {
	var out []string
	for _, group := range [][]string{markdownFormats, plainFormats, tableFormats, htmlFormats, dataFormats, codeFormats} {
		out = append(out, group...)
	}
	return out
}

// Convert implements Adapter.
func (t *Text) Convert(ctx context.Context, sourcePath, typeTag string) (string, error) {
	content, err := readSource(ctx, sourcePath)
	if err != nil {
		return "", err
	}

	limit := t.MaxBytes
	if limit <= 0 {
		limit = DefaultTextMaxBytes
	}
	if int64(len(content)) > limit {
		return "", &Failure{Kind: job.KindUnsupportedFormat, Message: fmt.Sprintf("file exceeds %d bytes", limit)}
	}
	if enry.IsBinary(content) {
		return "", &Failure{Kind: job.KindUnsupportedFormat, Message: "binary content in ." + typeTag + " file", Err: ErrUnsupportedFormat}
	}

	name := filepath.Base(sourcePath)
	tag := normalizeTag(typeTag)

	switch {
	case contains(markdownFormats, tag):
		return renderMarkdown(content)
	case contains(plainFormats, tag):
		return titled(name, strings.TrimRight(string(content), "\n")+"\n"), nil
	case tag == "csv":
		return renderTable(name, content, ',')
	case tag == "tsv":
		return renderTable(name, content, '\t')
	case contains(htmlFormats, tag):
		return renderHTML(content)
	case tag == "json":
		return renderJSON(name, content), nil
	default:
		return titled(name, fenced(fenceLanguage(name, content), content)), nil
	}
}

type frontMatter struct {
	Title string `yaml:"title" toml:"title" json:"title"`
}

// renderMarkdown passes Markdown through with its front matter removed.
// A front matter title becomes the H1 when the body has none.
func renderMarkdown(content []byte) (string, error) {
	var meta frontMatter
	body, err := frontmatter.Parse(bytes.NewReader(content), &meta)
	if err != nil {
		return "", Internal("parse front matter", err)
	}

	out := strings.TrimLeft(string(body), "\n")
	title := strings.TrimSpace(meta.Title)
	if title != "" && !markdown.Inspect(body).HasLevel(1) {
		out = "# " + title + "\n\n" + out
	}
	return out, nil
}

func renderJSON(name string, content []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(content), "", "  "); err != nil {
		return titled(name, fenced("json", content))
	}
	buf.WriteByte('\n')
	return titled(name, fenced("json", buf.Bytes()))
}

func titled(name, body string) string {
	return "# " + name + "\n\n" + body
}

// fenced wraps content in a code fence longer than any backtick run inside it.
func fenced(lang string, content []byte) string {
	longest, run := 0, 0
	for _, c := range content {
		if c == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	n := 3
	if longest >= n {
		n = longest + 1
	}
	fence := strings.Repeat("`", n)

	body := string(content)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fence + lang + "\n" + body + fence + "\n"
}

// fenceLanguage derives the info string for a code fence.
func fenceLanguage(name string, content []byte) string {
	lang := enry.GetLanguage(name, content)
	switch lang {
	case "", "Text":
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(lang), " ", "-")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
