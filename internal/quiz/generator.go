// Package quiz generates evidence-grounded questions from selected
// chunks and verifies each one against its cited source before it is
// admitted to the final set.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// ErrInsufficientEvidence reports that the model judged the available
// excerpts unable to support the requested question.
var ErrInsufficientEvidence = errors.New("quiz: insufficient evidence for question")

type Config struct {
	Count                int
	Types                []document.QuestionType
	EvidenceBudgetTokens int
	RewriteRetries       int
	Temperature          float32
	ChatTimeout          time.Duration
}

func DefaultConfig() Config {
	return Config{
		Count:                5,
		Types:                []document.QuestionType{document.TrueFalse, document.MultipleChoice},
		EvidenceBudgetTokens: 1600,
		RewriteRetries:       2,
		Temperature:          0.3,
		ChatTimeout:          60 * time.Second,
	}
}

type Generator struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

func NewGenerator(client llm.Client, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Types) == 0 {
		cfg.Types = DefaultConfig().Types
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// rawQuestion is the model's wire shape for one generated question.
type rawQuestion struct {
	InsufficientEvidence bool     `json:"insufficient_evidence"`
	Stem                 string   `json:"stem"`
	Options              []string `json:"options"`
	Answer               string   `json:"answer"`
	Explanation          string   `json:"explanation"`
	Citations            []string `json:"citations"`
}

var digitRe = regexp.MustCompile(`\d`)

// Generate produces the requested number of questions, cycling through
// the configured types. Unverified output is returned; the verifier
// decides what makes the final set.
func (g *Generator) Generate(ctx context.Context, sel document.SelectionResult) ([]document.Question, []document.TypeSubstitution, error) {
	if len(sel.Chunks) == 0 {
		return nil, nil, fmt.Errorf("quiz: no chunks selected")
	}

	plan, substitutions := g.plan(sel)
	evidence := formatEvidence(sel.Chunks, g.cfg.EvidenceBudgetTokens)
	lookup := sel.Lookup()

	var questions []document.Question
	for i, qtype := range plan {
		id := fmt.Sprintf("q%d", i+1)
		q, err := g.generateOne(ctx, id, qtype, evidence, lookup)
		if err != nil {
			g.logger.Warn("question generation failed", "id", id, "type", qtype, "error", err)
			continue
		}
		questions = append(questions, q)
	}
	return questions, substitutions, nil
}

// plan expands the configured types over the requested count.
// Calculation questions are swapped for short answers when the selected
// material carries no numbers to calculate with.
func (g *Generator) plan(sel document.SelectionResult) ([]document.QuestionType, []document.TypeSubstitution) {
	numeric := false
	for _, c := range sel.Chunks {
		if digitRe.MatchString(c.Text) {
			numeric = true
			break
		}
	}

	// When the calculation fallback itself is not a requested type, fall
	// through to multiple choice rather than introduce a third type.
	fallback := document.ShortAnswer
	if !slices.Contains(g.cfg.Types, document.ShortAnswer) &&
		slices.Contains(g.cfg.Types, document.MultipleChoice) {
		fallback = document.MultipleChoice
	}

	plan := make([]document.QuestionType, 0, g.cfg.Count)
	var substitutions []document.TypeSubstitution
	substituted := false
	for i := 0; i < g.cfg.Count; i++ {
		qtype := g.cfg.Types[i%len(g.cfg.Types)]
		if qtype == document.Calculation && !numeric {
			if !substituted {
				substitutions = append(substitutions, document.TypeSubstitution{
					Requested: document.Calculation,
					Used:      fallback,
					Reason:    "selected material contains no numeric content",
				})
				substituted = true
			}
			qtype = fallback
		}
		plan = append(plan, qtype)
	}
	return plan, substitutions
}

func (g *Generator) generateOne(ctx context.Context, id string, qtype document.QuestionType, evidence string, lookup map[string]document.Chunk) (document.Question, error) {
	messages := []llm.Message{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: generateUserPrompt(qtype, evidence)},
	}

	raw, err := g.chatOnce(ctx, messages)
	var malformed *llm.MalformedError
	if errors.As(err, &malformed) {
		retryMessages := append(messages, llm.Message{Role: "user", Content: correctiveGenInstruction})
		raw, err = g.chatOnce(ctx, retryMessages)
	}
	if err != nil {
		return document.Question{}, err
	}
	if raw.InsufficientEvidence {
		return document.Question{}, ErrInsufficientEvidence
	}

	// A reply that cites nothing, or only unknown chunk IDs, is as
	// malformed as unparseable JSON: one corrective regeneration, then
	// the question is dropped rather than shipped with invented evidence.
	if len(resolveEvidence(raw.Citations, lookup)) == 0 {
		retryMessages := append(messages, llm.Message{Role: "user", Content: correctiveCitationInstruction})
		raw, err = g.chatOnce(ctx, retryMessages)
		if err != nil {
			return document.Question{}, err
		}
		if raw.InsufficientEvidence {
			return document.Question{}, ErrInsufficientEvidence
		}
		if len(resolveEvidence(raw.Citations, lookup)) == 0 {
			return document.Question{}, fmt.Errorf("question %s cites no selected chunk", id)
		}
	}

	q := document.Question{
		ID:          id,
		Type:        qtype,
		Stem:        strings.TrimSpace(raw.Stem),
		Options:     raw.Options,
		Answer:      strings.TrimSpace(raw.Answer),
		Explanation: strings.TrimSpace(raw.Explanation),
		Evidence:    resolveEvidence(raw.Citations, lookup),
		Status:      document.StatusUnverified,
	}
	if q.Type == document.TrueFalse {
		q.Answer = NormalizeTF(q.Answer)
	}
	return q, nil
}

func (g *Generator) chatOnce(ctx context.Context, messages []llm.Message) (rawQuestion, error) {
	var raw rawQuestion
	err := llm.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.ChatTimeout)
		defer cancel()
		return llm.ChatJSON(callCtx, g.client, llm.ChatRequest{
			Messages:    messages,
			Temperature: g.cfg.Temperature,
		}, &raw)
	})
	return raw, err
}

const correctiveGenInstruction = "Your previous reply was not valid JSON in the requested shape. Respond again with only the JSON object, no prose, no code fences."

const correctiveCitationInstruction = "Your previous reply cited no usable chunk IDs. Respond again in the same JSON shape, citing only the chunk IDs shown in brackets in the excerpts."

func resolveEvidence(ids []string, lookup map[string]document.Chunk) []document.Citation {
	var out []document.Citation
	seen := make(map[string]bool)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		chunk, ok := lookup[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, document.Citation{Page: chunk.PageStart, ChunkID: id})
	}
	return out
}
