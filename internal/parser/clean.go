package parser

import (
	"crypto/sha1"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// Page cleaning: lecture slides and scanned handouts carry running headers,
// page numbers, divider art and OCR noise that would poison the evidence
// chunks. Clean strips per-line noise and removes lines repeated across
// enough pages to be headers or footers.

var (
	separatorRe = regexp.MustCompile(`[-_=~]{4,}`)
	bulletRunRe = regexp.MustCompile(`[*•·]{3,}`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
	controlRe   = regexp.MustCompile("[\x00-\x08\x0b-\x1f]")
	spaceRe     = regexp.MustCompile(`\s+`)
	digitRe     = regexp.MustCompile(`\d`)
)

// Clean normalizes and filters the lines of every page, then removes lines
// repeated on at least repeatThreshold pages (headers/footers). A threshold
// <= 0 picks a default of max(3, 40% of pages). Page numbers are preserved;
// a page whose lines are all filtered ends up with empty text.
func Clean(pages []document.Page, repeatThreshold int) []document.Page {
	cleaned := make([]document.Page, len(pages))
	for i, p := range pages {
		var lines []string
		for _, raw := range strings.Split(p.Text, "\n") {
			line := NormalizeLine(raw)
			if line == "" || IsLowInfoLine(line) || IsNoisyLine(line) {
				continue
			}
			lines = append(lines, line)
		}
		lines = dedupeLines(lines)
		cleaned[i] = document.Page{Number: p.Number, Lines: lines}
	}

	if repeatThreshold <= 0 {
		repeatThreshold = len(pages) * 2 / 5
		if repeatThreshold < 3 {
			repeatThreshold = 3
		}
	}
	removeRepeatedLines(cleaned, repeatThreshold)

	for i := range cleaned {
		cleaned[i].Text = strings.Join(cleaned[i].Lines, "\n")
	}
	return cleaned
}

// removeRepeatedLines drops lines whose digit-stripped fingerprint appears on
// threshold or more pages.
func removeRepeatedLines(pages []document.Page, threshold int) {
	counts := make(map[string]int)
	for _, p := range pages {
		seen := make(map[string]struct{})
		for _, line := range p.Lines {
			h := lineHash(line)
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			counts[h]++
		}
	}

	for i := range pages {
		kept := pages[i].Lines[:0]
		for _, line := range pages[i].Lines {
			if counts[lineHash(line)] >= threshold {
				continue
			}
			kept = append(kept, line)
		}
		pages[i].Lines = kept
	}
}

func dedupeLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := lines[:0]
	for _, line := range lines {
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

// NormalizeLine collapses whitespace and strips non-breaking spaces.
func NormalizeLine(line string) string {
	line = strings.ReplaceAll(line, " ", " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
}

// IsLowInfoLine reports whether a line carries no usable lecture content:
// bare page numbers, divider art, boilerplate words, near-constant character
// runs.
func IsLowInfoLine(line string) bool {
	if line == "" {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(line))
	if lower == "note" || lower == "notes" || lower == "page" {
		return true
	}
	if digitsRe.MatchString(line) {
		return true
	}
	runes := []rune(line)
	if len(runes) <= 2 {
		return true
	}
	unique := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		unique[r] = struct{}{}
	}
	if len(runes) > 5 && float64(len(unique))/float64(len(runes)) < 0.2 {
		return true
	}
	alnum := 0
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if float64(alnum)/float64(len(runes)) < 0.3 {
		return true
	}
	if separatorRe.MatchString(line) || bulletRunRe.MatchString(line) {
		return true
	}
	return false
}

// IsNoisyLine reports whether a line looks like extraction garbage:
// replacement characters, control bytes, or a low ratio of printable text.
func IsNoisyLine(line string) bool {
	if strings.ContainsRune(line, '�') {
		return true
	}
	if controlRe.MatchString(line) {
		return true
	}
	runes := []rune(line)
	if len(runes) < 8 {
		return false
	}
	printable := 0
	for _, r := range runes {
		if unicode.IsGraphic(r) && !unicode.IsSymbol(r) {
			printable++
		}
	}
	return float64(printable)/float64(len(runes)) < 0.6
}

// lineHash fingerprints a line for repeated header/footer detection. Digits
// are stripped first so "Intro to Databases 12" and "Intro to Databases 13"
// collide.
func lineHash(line string) string {
	normalized := digitRe.ReplaceAllString(NormalizeLine(line), "")
	sum := sha1.Sum([]byte(strings.ToLower(normalized)))
	return fmt.Sprintf("%x", sum)
}
