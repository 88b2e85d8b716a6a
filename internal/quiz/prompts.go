package quiz

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/chunker"
	"github.com/longyee25564126/QuizCraft/internal/document"
)

const generateSystemPrompt = `You are a study assistant writing quiz questions
from lecture excerpts. Every question must be answerable from the excerpts
alone. Never test knowledge the excerpts do not contain. Respond with JSON only.`

func generateFormat(qtype document.QuestionType) string {
	switch qtype {
	case document.MultipleChoice:
		return `{
  "insufficient_evidence": false,
  "stem": "the question text",
  "options": ["A ...", "B ...", "C ...", "D ..."],
  "answer": "A",
  "explanation": "why the answer is correct, quoting the excerpt",
  "citations": ["chunk id", "..."]
}`
	case document.TrueFalse:
		return `{
  "insufficient_evidence": false,
  "stem": "a declarative statement to judge",
  "answer": "true",
  "explanation": "why the statement is true or false, quoting the excerpt",
  "citations": ["chunk id", "..."]
}`
	case document.Calculation:
		return `{
  "insufficient_evidence": false,
  "stem": "a numeric problem from the excerpts",
  "answer": "the final numeric answer",
  "explanation": "the worked steps, quoting the excerpt",
  "citations": ["chunk id", "..."]
}`
	default:
		return `{
  "insufficient_evidence": false,
  "stem": "the question text",
  "answer": "a short factual answer",
  "explanation": "why the answer is correct, quoting the excerpt",
  "citations": ["chunk id", "..."]
}`
	}
}

func generateUserPrompt(qtype document.QuestionType, evidence string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write one %s question grounded in the excerpts below.\n", qtype)
	b.WriteString("Cite the ids of the excerpts the question relies on.\n")
	b.WriteString("If the excerpts cannot support such a question, set\n")
	b.WriteString(`"insufficient_evidence" to true and leave the rest empty.` + "\n")
	b.WriteString("Return JSON in exactly this shape:\n")
	b.WriteString(generateFormat(qtype))
	b.WriteString("\n\nExcerpts:\n")
	b.WriteString(evidence)
	return b.String()
}

const verifySystemPrompt = `You are a strict reviewer checking that a quiz
question is fully supported by the given excerpts. Respond with JSON only.`

func verifyUserPrompt(q document.Question, evidence string) string {
	raw, _ := json.Marshal(struct {
		Stem        string   `json:"stem"`
		Type        string   `json:"type"`
		Options     []string `json:"options,omitempty"`
		Answer      string   `json:"answer"`
		Explanation string   `json:"explanation"`
	}{q.Stem, string(q.Type), q.Options, q.Answer, q.Explanation})

	var b strings.Builder
	b.WriteString("Check the question below against the excerpts. The question is\n")
	b.WriteString("supported only if the answer is verifiable from the excerpts and\n")
	b.WriteString("the explanation does not rely on outside knowledge.\n")
	b.WriteString("Return JSON in exactly this shape:\n")
	b.WriteString(`{
  "supported": true,
  "deficiency": "what is wrong, empty when supported",
  "revised_question": null
}`)
	b.WriteString("\nWhen unsupported, set \"revised_question\" to a corrected question\n")
	b.WriteString("object in the same shape as the original, fixing the deficiency.\n")
	b.WriteString("\nQuestion:\n")
	b.Write(raw)
	b.WriteString("\n\nExcerpts:\n")
	b.WriteString(evidence)
	return b.String()
}

// formatEvidence renders chunks for a prompt, stopping at the token
// budget. At least one chunk is always included; a first chunk that
// alone exceeds the budget is trimmed rather than emitted whole.
func formatEvidence(chunks []document.Chunk, budgetTokens int) string {
	var b strings.Builder
	used := 0
	for i, c := range chunks {
		text := c.Text
		tokens := c.TokenCount
		if i == 0 && budgetTokens > 0 && tokens > budgetTokens {
			text = chunker.TrimToTokens(text, budgetTokens)
			tokens = chunker.EstimateTokens(text)
		}
		if i > 0 && budgetTokens > 0 && used+tokens > budgetTokens {
			break
		}
		fmt.Fprintf(&b, "[%s] (pages %d-%d)\n%s\n\n", c.ID, c.PageStart, c.PageEnd, text)
		used += tokens
	}
	return b.String()
}
