package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// Verifier checks each generated question against its cited evidence.
// A question that fails gets a bounded number of rewrite rounds; one
// that never passes is rejected and counted in the shortfall.
type Verifier struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

func NewVerifier(client llm.Client, cfg Config, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{client: client, cfg: cfg, logger: logger}
}

type verifyResponse struct {
	Supported  bool         `json:"supported"`
	Deficiency string       `json:"deficiency"`
	Revised    *rawQuestion `json:"revised_question"`
}

// Verify runs the check/rewrite loop over all questions and assembles
// the final quiz set. Requested records the configured question count
// so the shortfall covers generation misses as well as rejections.
func (v *Verifier) Verify(ctx context.Context, questions []document.Question, sel document.SelectionResult, substitutions []document.TypeSubstitution) document.QuizSet {
	lookup := sel.Lookup()

	var accepted []document.Question
	for _, q := range questions {
		verified, ok := v.verifyOne(ctx, q, sel, lookup)
		if !ok {
			v.logger.Warn("question rejected after rewrite attempts", "id", q.ID, "type", q.Type)
			continue
		}
		accepted = append(accepted, verified)
	}

	set := document.QuizSet{
		Questions:     accepted,
		Requested:     v.cfg.Count,
		Substitutions: substitutions,
	}
	if v.cfg.Count > len(accepted) {
		set.Shortfall = v.cfg.Count - len(accepted)
	}
	return set
}

// verifyOne walks one question through the verification loop. Each
// failed round consumes one rewrite attempt, whether the model supplied
// a revision or only a deficiency.
func (v *Verifier) verifyOne(ctx context.Context, q document.Question, sel document.SelectionResult, lookup map[string]document.Chunk) (document.Question, bool) {
	current := q
	rewritten := false

	for attempt := 0; attempt <= v.cfg.RewriteRetries; attempt++ {
		deficiency := v.structuralDeficiency(current, lookup)
		evidence := v.evidenceFor(current, sel, lookup)

		var resp verifyResponse
		if deficiency == "" {
			var err error
			resp, err = v.verifyCall(ctx, current, evidence)
			if err != nil {
				v.logger.Warn("verify call failed", "id", current.ID, "error", err)
				continue
			}
			if resp.Supported {
				if rewritten {
					current.Status = document.StatusRewritten
				} else {
					current.Status = document.StatusVerified
				}
				return current, true
			}
			deficiency = resp.Deficiency
		}

		if resp.Revised != nil {
			current = v.applyRevision(current, *resp.Revised, sel, lookup)
			rewritten = true
			continue
		}

		revised, err := v.requestRewrite(ctx, current, evidence, deficiency)
		if err != nil {
			v.logger.Warn("rewrite failed", "id", current.ID, "error", err)
			continue
		}
		current = v.applyRevision(current, revised, sel, lookup)
		rewritten = true
	}

	current.Status = document.StatusRejected
	return current, false
}

func (v *Verifier) verifyCall(ctx context.Context, q document.Question, evidence string) (verifyResponse, error) {
	messages := []llm.Message{
		{Role: "system", Content: verifySystemPrompt},
		{Role: "user", Content: verifyUserPrompt(q, evidence)},
	}

	var resp verifyResponse
	err := llm.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.cfg.ChatTimeout)
		defer cancel()
		return llm.ChatJSON(callCtx, v.client, llm.ChatRequest{
			Messages:    messages,
			Temperature: 0.2,
		}, &resp)
	})
	var malformed *llm.MalformedError
	if errors.As(err, &malformed) {
		retryMessages := append(messages, llm.Message{Role: "user", Content: correctiveGenInstruction})
		err = llm.WithRetry(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, v.cfg.ChatTimeout)
			defer cancel()
			return llm.ChatJSON(callCtx, v.client, llm.ChatRequest{
				Messages:    retryMessages,
				Temperature: 0.2,
			}, &resp)
		})
	}
	return resp, err
}

// requestRewrite asks the model for a corrected question when the
// verify pass found a deficiency but offered no revision itself.
func (v *Verifier) requestRewrite(ctx context.Context, q document.Question, evidence, deficiency string) (rawQuestion, error) {
	prompt := fmt.Sprintf(
		"The %s question below was rejected: %s\nRewrite it so it is fully supported by the excerpts.\nReturn JSON in exactly this shape:\n%s\n\nQuestion stem: %s\nAnswer: %s\n\nExcerpts:\n%s",
		q.Type, deficiency, generateFormat(q.Type), q.Stem, q.Answer, evidence)
	messages := []llm.Message{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: prompt},
	}

	var raw rawQuestion
	err := llm.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, v.cfg.ChatTimeout)
		defer cancel()
		return llm.ChatJSON(callCtx, v.client, llm.ChatRequest{
			Messages:    messages,
			Temperature: v.cfg.Temperature,
		}, &raw)
	})
	return raw, err
}

func (v *Verifier) applyRevision(current document.Question, raw rawQuestion, sel document.SelectionResult, lookup map[string]document.Chunk) document.Question {
	revised := document.Question{
		ID:          current.ID,
		Type:        current.Type,
		Stem:        strings.TrimSpace(raw.Stem),
		Options:     raw.Options,
		Answer:      strings.TrimSpace(raw.Answer),
		Explanation: strings.TrimSpace(raw.Explanation),
		Evidence:    resolveEvidence(raw.Citations, lookup),
		Status:      document.StatusRewritten,
	}
	if len(revised.Evidence) == 0 {
		revised.Evidence = current.Evidence
	}
	if len(revised.Evidence) == 0 && len(sel.Chunks) > 0 {
		first := sel.Chunks[0]
		revised.Evidence = []document.Citation{{Page: first.PageStart, ChunkID: first.ID}}
	}
	if revised.Stem == "" {
		revised.Stem = current.Stem
	}
	if revised.Answer == "" {
		revised.Answer = current.Answer
	}
	if revised.Type == document.TrueFalse {
		revised.Answer = NormalizeTF(revised.Answer)
	}
	return revised
}

// structuralDeficiency reports the first mechanical defect, or "" when
// the question is structurally sound. These checks run before the model
// is consulted so obviously broken questions go straight to rewrite.
func (v *Verifier) structuralDeficiency(q document.Question, lookup map[string]document.Chunk) string {
	if q.Stem == "" || q.Answer == "" || q.Explanation == "" {
		return "question is missing its stem, answer, or explanation"
	}
	if len(q.Evidence) == 0 {
		return "question cites no evidence"
	}
	for _, cit := range q.Evidence {
		if _, ok := lookup[cit.ChunkID]; !ok {
			return fmt.Sprintf("citation %s does not resolve to a selected chunk", cit.ChunkID)
		}
	}

	switch q.Type {
	case document.TrueFalse:
		if ans := NormalizeTF(q.Answer); ans != "true" && ans != "false" {
			return "true/false answer is neither true nor false"
		}
		if strings.HasSuffix(strings.TrimSpace(q.Stem), "?") {
			return "true/false stem must be a declarative statement"
		}
	case document.MultipleChoice:
		if len(q.Options) != 4 {
			return "multiple choice needs exactly four options"
		}
		seen := make(map[string]bool, 4)
		for _, opt := range q.Options {
			key := strings.ToLower(strings.TrimSpace(opt))
			if seen[key] {
				return "multiple choice options must be distinct"
			}
			seen[key] = true
		}
		letter := ExtractChoiceLetter(q.Answer)
		if letter == "" {
			return "multiple choice answer must name an option letter"
		}
		if int(letter[0]-'A') >= len(q.Options) {
			return "multiple choice answer letter is out of range"
		}
	case document.ShortAnswer:
		if ans := strings.ToLower(strings.TrimSpace(q.Answer)); ans == "true" || ans == "false" {
			return "short answer must not be a bare true/false"
		}
		if !answerInEvidence(q, lookup) {
			return "answer text does not appear in the cited evidence"
		}
	case document.Calculation:
		if !digitRe.MatchString(q.Answer) {
			return "calculation answer carries no number"
		}
	}
	return ""
}

// answerInEvidence checks that a short answer is literally present in
// at least one cited chunk.
func answerInEvidence(q document.Question, lookup map[string]document.Chunk) bool {
	answer := strings.ToLower(strings.TrimSpace(q.Answer))
	if answer == "" {
		return false
	}
	for _, cit := range q.Evidence {
		chunk, ok := lookup[cit.ChunkID]
		if ok && strings.Contains(strings.ToLower(chunk.Text), answer) {
			return true
		}
	}
	return false
}

// evidenceFor renders the cited chunks for a question, falling back to
// the head of the selection when nothing resolves.
func (v *Verifier) evidenceFor(q document.Question, sel document.SelectionResult, lookup map[string]document.Chunk) string {
	var chunks []document.Chunk
	for _, cit := range q.Evidence {
		if chunk, ok := lookup[cit.ChunkID]; ok {
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		chunks = sel.Chunks
	}
	return formatEvidence(chunks, v.cfg.EvidenceBudgetTokens)
}
