package quiz

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longyee25564126/QuizCraft/internal/chunker"
	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// routedClient dispatches prompts to per-stage handlers.
type routedClient struct {
	mu        sync.Mutex
	generate  func(n int, prompt string) (string, error)
	verify    func(n int, prompt string) (string, error)
	rewrite   func(n int, prompt string) (string, error)
	genCalls  int
	verCalls  int
	rewCalls  int
}

func (c *routedClient) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prompt := ""
	for _, m := range req.Messages {
		prompt += m.Content + "\n"
	}

	switch {
	case strings.Contains(prompt, "was rejected"):
		c.rewCalls++
		return c.rewrite(c.rewCalls, prompt)
	case strings.Contains(prompt, "Check the question"):
		c.verCalls++
		return c.verify(c.verCalls, prompt)
	default:
		c.genCalls++
		return c.generate(c.genCalls, prompt)
	}
}

func (c *routedClient) Embed(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (c *routedClient) EmbedModelID() string                            { return "fake-embed" }
func (c *routedClient) Close()                                          {}

func quizConfig() Config {
	cfg := DefaultConfig()
	cfg.Count = 2
	cfg.ChatTimeout = time.Second
	return cfg
}

func quizSelection() document.SelectionResult {
	return document.SelectionResult{
		Chunks: []document.Chunk{
			{
				ID: "p1_c1", PageStart: 1, PageEnd: 1, TokenCount: 60,
				Text: "Backpropagation computes gradients layer by layer using the chain rule.",
			},
			{
				ID: "p2_c1", PageStart: 2, PageEnd: 2, TokenCount: 60,
				Text: "The learning rate 0.01 worked best in the experiments.",
			},
		},
		Mode: document.SelectAll,
	}
}

func genJSON(stem, answer string, citations ...string) string {
	raw, _ := json.Marshal(rawQuestion{
		Stem:        stem,
		Answer:      answer,
		Explanation: "stated directly in the excerpt",
		Citations:   citations,
	})
	return string(raw)
}

func verifyJSON(supported bool, deficiency string) string {
	raw, _ := json.Marshal(verifyResponse{Supported: supported, Deficiency: deficiency})
	return string(raw)
}

func TestGeneratorProducesPlannedQuestions(t *testing.T) {
	client := &routedClient{
		generate: func(n int, prompt string) (string, error) {
			if strings.Contains(prompt, "true_false") {
				return genJSON("The chain rule drives backpropagation.", "true", "p1_c1"), nil
			}
			return genJSON("What computes gradients layer by layer?", "Backpropagation", "p1_c1"), nil
		},
	}
	cfg := quizConfig()
	cfg.Types = []document.QuestionType{document.TrueFalse, document.ShortAnswer}
	g := NewGenerator(client, cfg, nil)

	questions, subs, err := g.Generate(context.Background(), quizSelection())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Type != document.TrueFalse || questions[1].Type != document.ShortAnswer {
		t.Fatalf("expected type cycle, got %s then %s", questions[0].Type, questions[1].Type)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no substitutions, got %v", subs)
	}
	for _, q := range questions {
		if len(q.Evidence) == 0 {
			t.Fatalf("question %s has no evidence", q.ID)
		}
		if q.Status != document.StatusUnverified {
			t.Fatalf("expected unverified status, got %s", q.Status)
		}
	}
}

func TestGeneratorSubstitutesCalculationWithoutNumbers(t *testing.T) {
	client := &routedClient{
		generate: func(int, string) (string, error) {
			return genJSON("What drives backpropagation?", "the chain rule", "p1_c1"), nil
		},
	}
	cfg := quizConfig()
	cfg.Count = 1
	cfg.Types = []document.QuestionType{document.Calculation}
	g := NewGenerator(client, cfg, nil)

	sel := document.SelectionResult{
		Chunks: []document.Chunk{{
			ID: "p1_c1", PageStart: 1, PageEnd: 1, TokenCount: 40,
			Text: "Backpropagation applies the chain rule to every layer.",
		}},
		Mode: document.SelectAll,
	}
	questions, subs, err := g.Generate(context.Background(), sel)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 1 || questions[0].Type != document.ShortAnswer {
		t.Fatalf("expected calculation swapped to short answer, got %v", questions)
	}
	if len(subs) != 1 || subs[0].Requested != document.Calculation || subs[0].Used != document.ShortAnswer {
		t.Fatalf("expected recorded substitution, got %v", subs)
	}
}

func TestGeneratorDropsPersistentlyMalformedQuestion(t *testing.T) {
	client := &routedClient{
		generate: func(n int, prompt string) (string, error) {
			// The first question never parses, even after the
			// corrective retry. The second is fine.
			if strings.Contains(prompt, "true_false") {
				return "garbage that is not json", nil
			}
			return genJSON("What computes gradients?", "Backpropagation", "p1_c1"), nil
		},
	}
	cfg := quizConfig()
	cfg.Types = []document.QuestionType{document.TrueFalse, document.ShortAnswer}
	g := NewGenerator(client, cfg, nil)

	questions, _, err := g.Generate(context.Background(), quizSelection())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 1 || questions[0].Type != document.ShortAnswer {
		t.Fatalf("expected only the well-formed question to survive, got %v", questions)
	}
}

func TestGeneratorRegeneratesThenDropsUncitedQuestion(t *testing.T) {
	client := &routedClient{
		generate: func(int, string) (string, error) {
			// Every reply carries an empty citations array.
			return genJSON("The chain rule drives backpropagation.", "true"), nil
		},
	}
	cfg := quizConfig()
	cfg.Count = 1
	cfg.Types = []document.QuestionType{document.TrueFalse}
	g := NewGenerator(client, cfg, nil)

	questions, _, err := g.Generate(context.Background(), quizSelection())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 0 {
		t.Fatalf("expected uncited question to be dropped, got %v", questions)
	}
	if client.genCalls != 2 {
		t.Fatalf("expected one corrective regeneration (2 calls), got %d", client.genCalls)
	}
}

func TestGeneratorAcceptsCitationAfterCorrection(t *testing.T) {
	client := &routedClient{
		generate: func(n int, prompt string) (string, error) {
			if n == 1 {
				return genJSON("The chain rule drives backpropagation.", "true"), nil
			}
			if !strings.Contains(prompt, "cited no usable chunk IDs") {
				return "", nil
			}
			return genJSON("The chain rule drives backpropagation.", "true", "p1_c1"), nil
		},
	}
	cfg := quizConfig()
	cfg.Count = 1
	cfg.Types = []document.QuestionType{document.TrueFalse}
	g := NewGenerator(client, cfg, nil)

	questions, _, err := g.Generate(context.Background(), quizSelection())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("expected corrected question to be kept, got %d", len(questions))
	}
	if len(questions[0].Evidence) != 1 || questions[0].Evidence[0].ChunkID != "p1_c1" {
		t.Fatalf("expected evidence from the corrected reply, got %v", questions[0].Evidence)
	}
	if client.genCalls != 2 {
		t.Fatalf("expected exactly 2 generate calls, got %d", client.genCalls)
	}
}

func TestVerifierAcceptsSupportedQuestion(t *testing.T) {
	client := &routedClient{
		verify: func(int, string) (string, error) { return verifyJSON(true, ""), nil },
	}
	v := NewVerifier(client, quizConfig(), nil)

	q := document.Question{
		ID: "q1", Type: document.TrueFalse,
		Stem:        "The chain rule drives backpropagation.",
		Answer:      "true",
		Explanation: "stated directly in the excerpt",
		Evidence:    []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
		Status:      document.StatusUnverified,
	}
	set := v.Verify(context.Background(), []document.Question{q}, quizSelection(), nil)

	if len(set.Questions) != 1 {
		t.Fatalf("expected 1 accepted question, got %d", len(set.Questions))
	}
	if set.Questions[0].Status != document.StatusVerified {
		t.Fatalf("expected verified status, got %s", set.Questions[0].Status)
	}
	if set.Shortfall != quizConfig().Count-1 {
		t.Fatalf("expected shortfall %d, got %d", quizConfig().Count-1, set.Shortfall)
	}
}

func TestVerifierRewritesThenAccepts(t *testing.T) {
	client := &routedClient{
		verify: func(n int, prompt string) (string, error) {
			if n == 1 {
				resp := verifyResponse{
					Supported:  false,
					Deficiency: "answer is not supported",
					Revised: &rawQuestion{
						Stem:        "Backpropagation applies the chain rule.",
						Answer:      "true",
						Explanation: "stated directly in the excerpt",
						Citations:   []string{"p1_c1"},
					},
				}
				raw, _ := json.Marshal(resp)
				return string(raw), nil
			}
			return verifyJSON(true, ""), nil
		},
	}
	v := NewVerifier(client, quizConfig(), nil)

	q := document.Question{
		ID: "q1", Type: document.TrueFalse,
		Stem:        "Backpropagation was invented in 1743.",
		Answer:      "true",
		Explanation: "stated directly in the excerpt",
		Evidence:    []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
		Status:      document.StatusUnverified,
	}
	set := v.Verify(context.Background(), []document.Question{q}, quizSelection(), nil)

	if len(set.Questions) != 1 {
		t.Fatalf("expected 1 accepted question, got %d", len(set.Questions))
	}
	got := set.Questions[0]
	if got.Status != document.StatusRewritten {
		t.Fatalf("expected rewritten status, got %s", got.Status)
	}
	if got.Stem != "Backpropagation applies the chain rule." {
		t.Fatalf("expected revised stem, got %q", got.Stem)
	}
	if got.ID != "q1" {
		t.Fatalf("rewrite must keep the question id, got %q", got.ID)
	}
}

func TestVerifierRejectsAfterBoundedAttempts(t *testing.T) {
	client := &routedClient{
		verify: func(int, string) (string, error) {
			return verifyJSON(false, "relies on outside knowledge"), nil
		},
		rewrite: func(int, string) (string, error) {
			return genJSON("Still unsupported claim.", "true", "p1_c1"), nil
		},
	}
	cfg := quizConfig()
	cfg.Count = 1
	cfg.RewriteRetries = 2
	v := NewVerifier(client, cfg, nil)

	q := document.Question{
		ID: "q1", Type: document.TrueFalse,
		Stem:        "An unsupportable statement.",
		Answer:      "true",
		Explanation: "stated directly in the excerpt",
		Evidence:    []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
		Status:      document.StatusUnverified,
	}
	set := v.Verify(context.Background(), []document.Question{q}, quizSelection(), nil)

	if len(set.Questions) != 0 {
		t.Fatalf("expected rejection, got %v", set.Questions)
	}
	if set.Shortfall != 1 {
		t.Fatalf("expected shortfall 1, got %d", set.Shortfall)
	}
	// RewriteRetries bounds the loop: one verify per attempt, no more.
	if client.verCalls > cfg.RewriteRetries+1 {
		t.Fatalf("expected at most %d verify calls, got %d", cfg.RewriteRetries+1, client.verCalls)
	}
	if client.rewCalls > cfg.RewriteRetries+1 {
		t.Fatalf("expected bounded rewrite calls, got %d", client.rewCalls)
	}
}

func TestVerifierStructuralChecks(t *testing.T) {
	v := NewVerifier(&routedClient{}, quizConfig(), nil)
	lookup := quizSelection().Lookup()

	cases := []struct {
		name string
		q    document.Question
		want string
	}{
		{
			name: "missing evidence",
			q: document.Question{
				Type: document.TrueFalse, Stem: "s", Answer: "true", Explanation: "e",
			},
			want: "cites no evidence",
		},
		{
			name: "dangling citation",
			q: document.Question{
				Type: document.TrueFalse, Stem: "s", Answer: "true", Explanation: "e",
				Evidence: []document.Citation{{Page: 9, ChunkID: "p9_c9"}},
			},
			want: "does not resolve",
		},
		{
			name: "tf interrogative stem",
			q: document.Question{
				Type: document.TrueFalse, Stem: "Is this true?", Answer: "true", Explanation: "e",
				Evidence: []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
			},
			want: "declarative",
		},
		{
			name: "mcq wrong option count",
			q: document.Question{
				Type: document.MultipleChoice, Stem: "s", Answer: "A", Explanation: "e",
				Options:  []string{"A one", "B two"},
				Evidence: []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
			},
			want: "four options",
		},
		{
			name: "mcq duplicate options",
			q: document.Question{
				Type: document.MultipleChoice, Stem: "s", Answer: "A", Explanation: "e",
				Options:  []string{"one", "one", "two", "three"},
				Evidence: []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
			},
			want: "distinct",
		},
		{
			name: "short answer not in evidence",
			q: document.Question{
				Type: document.ShortAnswer, Stem: "s", Answer: "phlogiston", Explanation: "e",
				Evidence: []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
			},
			want: "does not appear",
		},
		{
			name: "sound short answer",
			q: document.Question{
				Type: document.ShortAnswer, Stem: "What computes gradients?",
				Answer: "Backpropagation", Explanation: "e",
				Evidence: []document.Citation{{Page: 1, ChunkID: "p1_c1"}},
			},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := v.structuralDeficiency(tc.q, lookup)
			if tc.want == "" {
				if got != "" {
					t.Fatalf("expected no deficiency, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("expected deficiency containing %q, got %q", tc.want, got)
			}
		})
	}
}

func TestFormatEvidenceTrimsOversizedFirstChunk(t *testing.T) {
	text := strings.Repeat("gradient descent updates parameters ", 80) + "sentinel"
	chunk := document.Chunk{
		ID: "p1_c1", PageStart: 1, PageEnd: 1,
		Text: text, TokenCount: chunker.EstimateTokens(text),
	}

	out := formatEvidence([]document.Chunk{chunk}, 100)
	if !strings.Contains(out, "[p1_c1]") {
		t.Fatal("expected the chunk header to be emitted")
	}
	if strings.Contains(out, "sentinel") {
		t.Fatal("expected the oversized chunk tail to be trimmed")
	}
	if got := chunker.EstimateTokens(out); got > 120 {
		t.Fatalf("expected trimmed evidence near the budget, got %d tokens", got)
	}
}
