package convert

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/3leaps/tomd/pkg/markdown"
)

// renderHTML converts an HTML document to Markdown.
//
// Only document structure survives: headings, paragraphs, lists, quotes,
// preformatted blocks, simple tables, links, images and emphasis. Scripts,
// styles and unknown markup are dropped or flattened to text.
func renderHTML(content []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", Internal("parse html", err)
	}

	r := &htmlRenderer{}
	r.blocks(doc, 0)
	out := squeezeBlankLines(r.b.String())

	if title := strings.TrimSpace(r.title); title != "" && !markdown.Inspect([]byte(out)).HasLevel(1) {
		out = "# " + title + "\n\n" + out
	}
	return out, nil
}

type htmlRenderer struct {
	b     strings.Builder
	title string
}

func (r *htmlRenderer) para(s string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return
	}
	r.b.WriteString(s)
	r.b.WriteString("\n\n")
}

func (r *htmlRenderer) blocks(n *html.Node, depth int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			r.para(normalizeText(c.Data))
		case html.ElementNode:
			r.element(c, depth)
		case html.DocumentNode:
			r.blocks(c, depth)
		}
	}
}

func (r *htmlRenderer) element(n *html.Node, depth int) {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Iframe:
		return
	case atom.Title:
		r.title = collapseSpace(textContent(n))
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		if text := strings.TrimSpace(inline(n)); text != "" {
			r.b.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
		}
	case atom.P:
		r.para(inline(n))
	case atom.Pre:
		r.b.WriteString(fenced("", []byte(textContent(n))))
		r.b.WriteString("\n")
	case atom.Ul, atom.Ol:
		r.list(n, n.DataAtom == atom.Ol, depth)
		r.b.WriteString("\n")
	case atom.Blockquote:
		sub := &htmlRenderer{}
		sub.blocks(n, depth)
		for _, line := range strings.Split(strings.TrimSpace(squeezeBlankLines(sub.b.String())), "\n") {
			r.b.WriteString(strings.TrimRight("> "+line, " ") + "\n")
		}
		r.b.WriteString("\n")
	case atom.Hr:
		r.b.WriteString("---\n\n")
	case atom.Table:
		r.table(n)
	default:
		if hasBlockChild(n) {
			r.blocks(n, depth)
			return
		}
		r.para(inline(n))
	}
}

func (r *htmlRenderer) list(n *html.Node, ordered bool, depth int) {
	idx := 0
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		idx++
		marker := "- "
		if ordered {
			marker = strconv.Itoa(idx) + ". "
		}

		var text strings.Builder
		var nested []*html.Node
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.DataAtom == atom.Ul || c.DataAtom == atom.Ol) {
				nested = append(nested, c)
				continue
			}
			text.WriteString(inlineNode(c))
		}

		r.b.WriteString(strings.Repeat("  ", depth) + marker + strings.TrimSpace(collapseSpace(text.String())) + "\n")
		for _, sub := range nested {
			r.list(sub, sub.DataAtom == atom.Ol, depth+1)
		}
	}
}

func (r *htmlRenderer) table(n *html.Node) {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == atom.Tr {
				var cells []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.DataAtom == atom.Td || cell.DataAtom == atom.Th) {
						cells = append(cells, escapeCell(inline(cell)))
					}
				}
				rows = append(rows, cells)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	if len(rows) == 0 {
		return
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	writeRow := func(cells []string) {
		r.b.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			r.b.WriteString(" " + cell + " |")
		}
		r.b.WriteString("\n")
	}
	writeRow(rows[0])
	r.b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	r.b.WriteString("\n")
}

// inline renders the children of n as a single line of Markdown.
func inline(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(inlineNode(c))
	}
	return strings.TrimSpace(collapseSpace(b.String()))
}

func inlineNode(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return normalizeText(n.Data)
	case html.ElementNode:
	default:
		return ""
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return ""
	case atom.Br:
		return "\n"
	case atom.A:
		text := inline(n)
		href := attr(n, "href")
		if href == "" || text == "" {
			return text
		}
		return "[" + text + "](" + href + ")"
	case atom.Img:
		src := attr(n, "src")
		if src == "" {
			return ""
		}
		return "![" + attr(n, "alt") + "](" + src + ")"
	case atom.Strong, atom.B:
		return wrapNonEmpty("**", inline(n))
	case atom.Em, atom.I:
		return wrapNonEmpty("*", inline(n))
	case atom.Code:
		return wrapNonEmpty("`", textContent(n))
	}

	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(inlineNode(c))
	}
	return b.String()
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Ul: true, atom.Ol: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Hr: true,
	atom.Section: true, atom.Article: true, atom.Main: true, atom.Header: true,
	atom.Footer: true, atom.Nav: true, atom.Aside: true, atom.Body: true,
	atom.Head: true, atom.Title: true, atom.Html: true, atom.Script: true, atom.Style: true,
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && blockAtoms[c.DataAtom] {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func wrapNonEmpty(marker, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return marker + s + marker
}

// normalizeText folds source whitespace, newlines included, to single
// spaces while keeping a boundary space on either side.
func normalizeText(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s == "" {
			return ""
		}
		return " "
	}
	out := strings.Join(fields, " ")
	if isSpace(s[0]) {
		out = " " + out
	}
	if isSpace(s[len(s)-1]) {
		out += " "
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// collapseSpace folds runs of spaces and tabs; single newlines from <br>
// survive as hard breaks.
func collapseSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.Join(lines, "\n")
}

func squeezeBlankLines(s string) string {
	var out []string
	blank := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}
