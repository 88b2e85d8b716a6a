package parser

import (
	"bufio"
	"io"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// TextParser handles plain text files. Form feeds delimit pages when present;
// otherwise the whole file is a single page.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sb strings.Builder
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	text := sb.String()
	if strings.Contains(text, "\f") {
		return pagesFrom(strings.Split(text, "\f")), nil
	}
	return pagesFrom([]string{text}), nil
}
