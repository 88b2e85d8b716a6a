package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// scriptedClient answers map and reduce prompts separately so tests can
// control each stage.
type scriptedClient struct {
	mu          sync.Mutex
	mapReply    func(prompt string) (string, error)
	reduceReply func(prompt string) (string, error)
	reduceCalls int
	mapCalls    int
	prompts     []string
}

func (c *scriptedClient) Chat(_ context.Context, req llm.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prompt := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			prompt += m.Content + "\n"
		}
	}
	c.prompts = append(c.prompts, prompt)

	if strings.Contains(prompt, "Merge the draft sections") {
		c.reduceCalls++
		return c.reduceReply(prompt)
	}
	c.mapCalls++
	return c.mapReply(prompt)
}

func (c *scriptedClient) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}

func (c *scriptedClient) EmbedModelID() string { return "fake-embed" }

func (c *scriptedClient) Close() {}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchTokens = 200
	cfg.MinSections = 1
	cfg.MinKeypoints = 2
	cfg.OverviewMinChars = 10
	cfg.OverviewMaxChars = 300
	cfg.ChatTimeout = time.Second
	cfg.ReduceTimeout = time.Second
	return cfg
}

func selection(chunks ...document.Chunk) document.SelectionResult {
	return document.SelectionResult{Chunks: chunks, Mode: document.SelectAll}
}

func testChunk(id string, page, tokens int, text string) document.Chunk {
	return document.Chunk{ID: id, PageStart: page, PageEnd: page, Text: text, TokenCount: tokens}
}

func mapJSON(citations ...string) string {
	resp := mapResponse{Sections: []draftSection{{
		Title:     "Gradient Descent",
		Body:      "Gradient descent iteratively updates parameters against the loss gradient.",
		Citations: citations,
		Keypoints: []string{"learning rate controls step size", "convergence needs a decaying rate"},
	}}}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func reduceJSON(citations ...string) string {
	resp := reduceResponse{
		Overview: "The lecture covers gradient descent and how the learning rate shapes convergence behavior.",
		Sections: []reducedSection{{
			Title:     "Gradient Descent",
			Body:      "Parameters move against the loss gradient each step.",
			Citations: citations,
		}},
		Keypoints: []string{"learning rate controls step size", "gradients point uphill"},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestBatchChunksRespectsBudget(t *testing.T) {
	chunks := []document.Chunk{
		testChunk("p1_c1", 1, 80, "a"),
		testChunk("p1_c2", 1, 80, "b"),
		testChunk("p2_c1", 2, 80, "c"),
		testChunk("p3_c1", 3, 500, "oversized"),
		testChunk("p4_c1", 4, 40, "d"),
	}

	batches := batchChunks(chunks, 200)
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || batches[0][1].ID != "p1_c2" {
		t.Fatalf("expected first batch to pack two chunks, got %v", batches[0])
	}
	// An oversized chunk still gets carried, alone.
	if len(batches[2]) != 1 || batches[2][0].ID != "p3_c1" {
		t.Fatalf("expected oversized chunk in its own batch, got %v", batches[2])
	}
}

func TestSummarizeHappyPath(t *testing.T) {
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return mapJSON("p1_c1"), nil },
		reduceReply: func(string) (string, error) { return reduceJSON("p1_c1"), nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(testChunk("p1_c1", 1, 50, "gradient descent updates parameters"))
	summary, err := s.Summarize(context.Background(), sel)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}

	if summary.Overview == "" {
		t.Fatal("expected non-empty overview")
	}
	if len(summary.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(summary.Sections))
	}
	got := summary.Sections[0].Citations
	if len(got) != 1 || got[0].ChunkID != "p1_c1" || got[0].Page != 1 {
		t.Fatalf("unexpected citations: %v", got)
	}
	if got[0].Tag() != "p1:p1_c1" {
		t.Fatalf("unexpected citation tag: %s", got[0].Tag())
	}
}

func TestReduceNeverSeesChunkText(t *testing.T) {
	const secret = "xylotomous"
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return mapJSON("p1_c1"), nil },
		reduceReply: func(string) (string, error) { return reduceJSON("p1_c1"), nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(testChunk("p1_c1", 1, 50, "the word "+secret+" appears only in source text"))
	if _, err := s.Summarize(context.Background(), sel); err != nil {
		t.Fatalf("summarize failed: %v", err)
	}

	for _, prompt := range client.prompts {
		if strings.Contains(prompt, "Merge the draft sections") && strings.Contains(prompt, secret) {
			t.Fatal("reduce prompt leaked source chunk text")
		}
	}
}

func TestSummarizeDropsUnknownCitations(t *testing.T) {
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return mapJSON("p1_c1", "p9_c9"), nil },
		reduceReply: func(string) (string, error) { return reduceJSON("p1_c1", "p9_c9"), nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(testChunk("p1_c1", 1, 50, "gradient descent text"))
	summary, err := s.Summarize(context.Background(), sel)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	for _, sec := range summary.Sections {
		for _, cit := range sec.Citations {
			if cit.ChunkID == "p9_c9" {
				t.Fatal("citation to unknown chunk survived")
			}
		}
	}
}

func TestReduceBackfillFiltersUnrelatedCitations(t *testing.T) {
	// The reduce reply cites nothing, so the section inherits citations
	// from the best-overlapping draft. Only citations whose chunk text
	// still shares vocabulary with the section body may survive.
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return mapJSON("p1_c1", "p2_c1"), nil },
		reduceReply: func(string) (string, error) { return reduceJSON(), nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(
		testChunk("p1_c1", 1, 50, "gradient descent updates parameters"),
		testChunk("p2_c1", 2, 50, "course logistics exam dates office hours"),
	)
	summary, err := s.Summarize(context.Background(), sel)
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if len(summary.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(summary.Sections))
	}
	cits := summary.Sections[0].Citations
	if len(cits) != 1 || cits[0].ChunkID != "p1_c1" {
		t.Fatalf("expected only the related citation to survive, got %v", cits)
	}
}

func TestSummarizeFallsBackToDraftsWhenReduceMalformed(t *testing.T) {
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return mapJSON("p1_c1"), nil },
		reduceReply: func(string) (string, error) { return "this is not json", nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(testChunk("p1_c1", 1, 50, "gradient descent text"))
	summary, err := s.Summarize(context.Background(), sel)
	if err != nil {
		t.Fatalf("expected draft fallback, got error: %v", err)
	}

	// Malformed reduce output gets exactly one corrective regeneration.
	if client.reduceCalls != 2 {
		t.Fatalf("expected 2 reduce attempts, got %d", client.reduceCalls)
	}
	if len(summary.Sections) == 0 {
		t.Fatal("expected sections assembled from drafts")
	}
	if summary.Sections[0].Citations[0].ChunkID != "p1_c1" {
		t.Fatalf("expected draft citations to survive, got %v", summary.Sections[0].Citations)
	}
}

func TestSummarizeToleratesPartialBatchFailure(t *testing.T) {
	var mapCount int
	var mu sync.Mutex
	client := &scriptedClient{
		mapReply: func(prompt string) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			mapCount++
			if strings.Contains(prompt, "p2_c1") {
				return "", fmt.Errorf("backend exploded")
			}
			return mapJSON("p1_c1"), nil
		},
		reduceReply: func(string) (string, error) { return reduceJSON("p1_c1"), nil },
	}
	cfg := testConfig()
	cfg.BatchTokens = 50
	s := New(client, cfg, nil)

	sel := selection(
		testChunk("p1_c1", 1, 50, "gradient descent text"),
		testChunk("p2_c1", 2, 50, "poisoned batch"),
	)
	summary, err := s.Summarize(context.Background(), sel)
	if err != nil {
		t.Fatalf("expected run to survive one failed batch, got %v", err)
	}
	if len(summary.Sections) == 0 {
		t.Fatal("expected sections from the surviving batch")
	}
}

func TestSummarizeFailsWhenAllBatchesFail(t *testing.T) {
	client := &scriptedClient{
		mapReply:    func(string) (string, error) { return "", fmt.Errorf("backend down") },
		reduceReply: func(string) (string, error) { return reduceJSON("p1_c1"), nil },
	}
	s := New(client, testConfig(), nil)

	sel := selection(testChunk("p1_c1", 1, 50, "gradient descent text"))
	if _, err := s.Summarize(context.Background(), sel); err != ErrAllBatchesFailed {
		t.Fatalf("expected ErrAllBatchesFailed, got %v", err)
	}
}

func TestClampOverview(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := clampOverview(long, 120)
	if len(got) > 121 {
		t.Fatalf("expected clamped overview, got %d chars", len(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Fatalf("expected clamped overview to end with a period, got %q", got)
	}

	if got := clampOverview("short text", 120); got != "short text" {
		t.Fatalf("expected short overview unchanged, got %q", got)
	}
}
