// Package markdown reduces post bodies to plain text for search documents
// and excerpts. It never renders HTML.
package markdown

import (
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// ExcerptLength is the default excerpt size in characters.
const ExcerptLength = 160

var engine = goldmark.New(goldmark.WithExtensions(extension.GFM))

// PlainText returns the readable text of a Markdown document: code, images
// and raw HTML are dropped, link labels kept, whitespace collapsed.
func PlainText(src string) string {
	source := []byte(src)
	doc := engine.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	space := func() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				space()
			}
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.CodeSpan, *ast.Image, *ast.HTMLBlock, *ast.RawHTML:
			space()
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(n.Segment.Value(source))
			if n.SoftLineBreak() || n.HardLineBreak() {
				space()
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.AutoLink:
			b.Write(n.Label(source))
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// Excerpt returns the first limit characters of the plain text, with "..."
// appended when it was cut.
func Excerpt(src string, limit int) string {
	return Truncate(PlainText(src), limit)
}

// Truncate cuts s to limit characters and marks the cut with "...".
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:limit])) + "..."
}
