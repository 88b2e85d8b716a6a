package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"golang.org/x/net/html"
)

// HTMLParser handles HTML files. h1/h2 headings break pages, matching the
// markdown parser's section-per-page mapping.
type HTMLParser struct{}

func (p *HTMLParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var sections []string
	var current strings.Builder

	flush := func() {
		if strings.TrimSpace(current.String()) != "" {
			sections = append(sections, current.String())
		}
		current.Reset()
	}
	add := func(t string) {
		if t == "" {
			return
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(t)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			level := headingLevel(n.Data)
			if level > 0 {
				if level <= 2 {
					flush()
				}
				add(textContent(n))
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			case "p", "li", "td", "blockquote", "pre":
				add(textContent(n))
				return
			}
		}
		for c := range n.ChildNodes() {
			walk(c)
		}
	}

	body := findBody(doc)
	if body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	flush()

	if len(sections) == 0 {
		return pagesFrom([]string{""}), nil
	}
	return pagesFrom(sections), nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for d := range n.Descendants() {
		if d.Type == html.TextNode {
			sb.WriteString(d.Data)
		}
	}
	return strings.TrimSpace(sb.String())
}

func findBody(root *html.Node) *html.Node {
	for d := range root.Descendants() {
		if d.Type == html.ElementNode && d.Data == "body" {
			return d
		}
	}
	return nil
}
