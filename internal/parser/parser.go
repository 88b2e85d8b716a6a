package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// Parser converts raw document bytes into a sequence of cleaned pages.
// Page numbers in the result are 1-based and contiguous. Formats without a
// physical page concept (markdown, html, docx, txt) map one top-level section
// to one page so that citations stay addressable.
type Parser interface {
	Parse(r io.Reader, filename string) ([]document.Page, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Title derives a document title from the filename.
func Title(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// pagesFrom builds contiguous 1-based pages from raw per-page text, dropping
// nothing: empty pages are kept so the page numbering matches the source and
// downstream stages can report them as skipped.
func pagesFrom(texts []string) []document.Page {
	pages := make([]document.Page, 0, len(texts))
	for i, t := range texts {
		pages = append(pages, document.Page{
			Number: i + 1,
			Text:   strings.TrimSpace(t),
		})
	}
	return pages
}
