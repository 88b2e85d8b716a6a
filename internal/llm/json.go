package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeBlock removes a surrounding markdown code fence, which models emit
// even when asked for bare JSON.
func StripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// DecodeJSON parses a model response into v. If the full text does not parse,
// it falls back to the outermost {...} or [...] span before reporting a
// *MalformedError.
func DecodeJSON(raw string, v any) error {
	text := StripCodeBlock(raw)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	if span := outerJSONSpan(text); span != "" {
		if err := json.Unmarshal([]byte(span), v); err == nil {
			return nil
		}
	}

	err := json.Unmarshal([]byte(text), v)
	return &MalformedError{Raw: raw, Err: err}
}

func outerJSONSpan(text string) string {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start != -1 && end > start {
			return text[start : end+1]
		}
	}
	return ""
}
