package parser

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser handles PDF files in memory. When the library cannot open the
// document and FallbackPdftotext is set, the pdftotext binary is tried.
type PDFParser struct {
	FallbackPdftotext bool
}

func (p *PDFParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if p.FallbackPdftotext {
			return p.pagesViaPdftotext(data)
		}
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	total := reader.NumPage()
	texts := make([]string, total)
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		// A page that fails extraction keeps its empty slot so numbering
		// stays aligned with the source document.
		if text, err := page.GetPlainText(nil); err == nil {
			texts[n-1] = text
		}
	}
	return pagesFrom(texts), nil
}

// pagesViaPdftotext shells out to pdftotext, which splits pages with form
// feeds. The binary wants a file path, so the bytes go through a temp file.
func (p *PDFParser) pagesViaPdftotext(data []byte) ([]document.Page, error) {
	tmp, err := os.CreateTemp("", "quizcraft-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	out, err := exec.Command("pdftotext", "-layout", tmp.Name(), "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}
	return pagesFrom(strings.Split(string(out), "\f")), nil
}
