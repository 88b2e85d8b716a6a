package parser

import (
	"fmt"
	"testing"
)

func TestForFile_Routing(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"notes.txt", "*parser.TextParser"},
		{"notes.md", "*parser.MarkdownParser"},
		{"notes.markdown", "*parser.MarkdownParser"},
		{"notes.html", "*parser.HTMLParser"},
		{"notes.HTM", "*parser.HTMLParser"},
		{"notes.pdf", "*parser.PDFParser"},
		{"notes.docx", "*parser.DOCXParser"},
	}
	for _, tt := range tests {
		p, err := ForFile(tt.filename)
		if err != nil {
			t.Errorf("ForFile(%q): unexpected error: %v", tt.filename, err)
			continue
		}
		if got := fmt.Sprintf("%T", p); got != tt.want {
			t.Errorf("ForFile(%q) = %s, want %s", tt.filename, got, tt.want)
		}
	}
}

func TestForFile_Unsupported(t *testing.T) {
	for _, filename := range []string{"deck.pptx", "archive.zip", "noext"} {
		if _, err := ForFile(filename); err == nil {
			t.Errorf("ForFile(%q): expected error", filename)
		}
	}
}

func TestIsSupportedExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"a.txt", true},
		{"a.md", true},
		{"a.markdown", true},
		{"a.html", true},
		{"a.htm", true},
		{"a.PDF", true},
		{"a.docx", true},
		{"a.pptx", false},
		{"a.exe", false},
		{"a", false},
	}
	for _, tt := range tests {
		if got := IsSupportedExtension(tt.filename); got != tt.want {
			t.Errorf("IsSupportedExtension(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"lecture-03.pdf", "lecture-03"},
		{"/tmp/uploads/week one.docx", "week one"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := Title(tt.filename); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
