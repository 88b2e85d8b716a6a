package parser

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/fumiama/go-docx"
)

// DOCXParser handles .docx files. Heading-1/2 styled paragraphs break pages.
type DOCXParser struct{}

func (p *DOCXParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	// go-docx needs a ReadSeeker+size, so write to temp file.
	tmp, err := os.CreateTemp("", "quizcraft-docx-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}

	doc, err := docx.Parse(tmp, int64(size))
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("parse docx: %w", err)
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

	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		level := docxHeadingLevel(para)
		text := docxParagraphText(para)
		if text == "" {
			continue
		}
		if level > 0 && level <= 2 {
			flush()
		}
		add(text)
	}
	flush()

	if len(sections) == 0 {
		return pagesFrom([]string{""}), nil
	}
	return pagesFrom(sections), nil
}

func docxHeadingLevel(para *docx.Paragraph) int {
	if para.Properties == nil || para.Properties.Style == nil {
		return 0
	}
	style := strings.ToLower(strings.ReplaceAll(para.Properties.Style.Val, " ", ""))
	if rest, ok := strings.CutPrefix(style, "heading"); ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
		return int(rest[0] - '0')
	}
	return 0
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}
