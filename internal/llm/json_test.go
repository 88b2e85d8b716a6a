package llm

import (
	"errors"
	"testing"
)

func TestStripCodeBlock(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced bare", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripCodeBlock(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeJSONRecoversEmbeddedObject(t *testing.T) {
	var out struct {
		Answer string `json:"answer"`
	}
	raw := "Sure, here is the result:\n{\"answer\": \"true\"} hope that helps"
	if err := DecodeJSON(raw, &out); err != nil {
		t.Fatalf("expected embedded object to decode, got %v", err)
	}
	if out.Answer != "true" {
		t.Fatalf("expected answer=true, got %q", out.Answer)
	}
}

func TestDecodeJSONReportsMalformed(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("not json at all", &out)
	if err == nil {
		t.Fatal("expected error for unparseable output")
	}
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected *MalformedError, got %T", err)
	}
}
