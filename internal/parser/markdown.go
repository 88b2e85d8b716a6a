package parser

import (
	"bytes"
	"io"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// MarkdownParser handles Markdown lecture notes using goldmark. Each top-level
// heading starts a new page so citations can address individual sections.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	reader := text.NewReader(src)
	doc := md.Parser().Parse(reader)

	var sections []string
	var current strings.Builder

	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			sections = append(sections, current.String())
		}
		current.Reset()
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			// Top-level headings break pages; deeper headings stay inline.
			if node.Level <= 2 {
				flush()
			}
			title := string(node.Text(src))
			if title != "" {
				if current.Len() > 0 {
					current.WriteString("\n\n")
				}
				current.WriteString(title)
			}
		default:
			t := extractText(n, src)
			if t != "" {
				if current.Len() > 0 {
					current.WriteString("\n\n")
				}
				current.WriteString(t)
			}
		}
	}
	flush()

	if len(sections) == 0 {
		return pagesFrom([]string{string(src)}), nil
	}
	return pagesFrom(sections), nil
}

// extractText gets the text content of a goldmark AST node.
func extractText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	if n.Type() == ast.TypeBlock {
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			line := lines.At(i)
			buf.Write(line.Value(src))
		}
	}
	// Also handle inline children.
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			buf.Write(t.Value(src))
			if t.HardLineBreak() || t.SoftLineBreak() {
				buf.WriteByte('\n')
			}
		} else {
			buf.WriteString(extractText(c, src))
		}
	}
	return strings.TrimSpace(buf.String())
}
