package index

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/embedcache"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// fakeEmbedClient maps known texts to fixed vectors and counts calls.
type fakeEmbedClient struct {
	vectors    map[string][]float32
	embedCalls atomic.Int64
}

func (f *fakeEmbedClient) Chat(context.Context, llm.ChatRequest) (string, error) {
	return "", nil
}

func (f *fakeEmbedClient) Embed(_ context.Context, text string) ([]float32, error) {
	f.embedCalls.Add(1)
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedClient) EmbedModelID() string { return "fake-embed" }

func (f *fakeEmbedClient) Close() {}

func chunk(id string, page, tokens int, text string) document.Chunk {
	return document.Chunk{
		ID:         id,
		PageStart:  page,
		PageEnd:    page,
		Text:       text,
		TokenCount: tokens,
	}
}

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched length", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Cosine(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("cosine(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSearchBreaksTiesByDocumentOrder(t *testing.T) {
	ix := &Index{
		Chunks: []document.Chunk{
			chunk("p1_c1", 1, 10, "a"),
			chunk("p1_c2", 1, 10, "b"),
			chunk("p2_c1", 2, 10, "c"),
		},
		Vectors: [][]float32{
			{0, 1},
			{1, 0},
			{1, 0},
		},
	}

	ranked := ix.Search([]float32{1, 0}, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Chunk.ID != "p1_c2" || ranked[1].Chunk.ID != "p2_c1" {
		t.Fatalf("expected tied chunks in document order, got %s then %s",
			ranked[0].Chunk.ID, ranked[1].Chunk.ID)
	}
}

func TestScopeFilterPageRange(t *testing.T) {
	chunks := []document.Chunk{
		chunk("p1_c1", 1, 10, "intro"),
		chunk("p3_c1", 3, 10, "body"),
		chunk("p5_c1", 5, 10, "outro"),
	}

	got, narrowed := ScopeFilter(chunks, 2, 4, "")
	if !narrowed || len(got) != 1 || got[0].ID != "p3_c1" {
		t.Fatalf("expected only p3_c1, got %v (narrowed=%v)", got, narrowed)
	}

	// A range that matches nothing keeps the full document.
	got, narrowed = ScopeFilter(chunks, 10, 20, "")
	if narrowed || len(got) != 3 {
		t.Fatalf("expected fallback to all chunks, got %d (narrowed=%v)", len(got), narrowed)
	}
}

func TestScopeFilterChapter(t *testing.T) {
	chunks := []document.Chunk{
		chunk("p1_c1", 1, 10, "Chapter 1: Gradient Descent"),
		chunk("p2_c1", 2, 10, "unrelated material"),
	}

	got, narrowed := ScopeFilter(chunks, 0, 0, "gradient descent")
	if !narrowed || len(got) != 1 || got[0].ID != "p1_c1" {
		t.Fatalf("expected chapter match on p1_c1, got %v", got)
	}

	got, narrowed = ScopeFilter(chunks, 0, 0, "no such chapter")
	if narrowed || len(got) != 2 {
		t.Fatalf("expected unmatched chapter to keep selection, got %d", len(got))
	}
}

func TestSimilaritySelectorRespectsBudgetAndOrder(t *testing.T) {
	ix := &Index{
		Chunks: []document.Chunk{
			chunk("p1_c1", 1, 100, "a"),
			chunk("p2_c1", 2, 100, "b"),
			chunk("p3_c1", 3, 100, "c"),
		},
		Vectors: [][]float32{
			{0.2, 1},
			{1, 0.1},
			{1, 0},
		},
	}

	sel := SimilaritySelector{TopK: 3, BudgetTokens: 200, MinScore: 0.1}
	res := sel.Select(ix, []float32{1, 0})

	if res.Mode != document.SelectSimilarity {
		t.Fatalf("expected similarity mode, got %s", res.Mode)
	}
	if len(res.Chunks) != 2 {
		t.Fatalf("expected budget to cap at 2 chunks, got %d", len(res.Chunks))
	}
	// p3_c1 scores highest, p2_c1 second; output is document order.
	if res.Chunks[0].ID != "p2_c1" || res.Chunks[1].ID != "p3_c1" {
		t.Fatalf("expected document order p2_c1, p3_c1; got %s, %s",
			res.Chunks[0].ID, res.Chunks[1].ID)
	}
	if len(res.Scores) != len(res.Chunks) {
		t.Fatalf("scores not parallel to chunks: %d vs %d", len(res.Scores), len(res.Chunks))
	}
}

func TestSimilaritySelectorFallsBackOnWeakSignal(t *testing.T) {
	ix := &Index{
		Chunks: []document.Chunk{
			chunk("p1_c1", 1, 50, "a"),
			chunk("p2_c1", 2, 50, "b"),
			chunk("p3_c1", 3, 50, "c"),
		},
		Vectors: [][]float32{
			{0, 1},
			{0, 1},
			{0, 1},
		},
	}

	sel := SimilaritySelector{TopK: 2, BudgetTokens: 1000, MinScore: 0.1}
	res := sel.Select(ix, []float32{1, 0})

	if res.Mode != document.SelectAll {
		t.Fatalf("expected document-order fallback mode, got %s", res.Mode)
	}
	if len(res.Chunks) != 2 || res.Chunks[0].ID != "p1_c1" || res.Chunks[1].ID != "p2_c1" {
		t.Fatalf("expected leading chunks in document order, got %v", res.Chunks)
	}
}

func TestBuildReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	store := embedcache.NewMemoryStore()
	client := &fakeEmbedClient{vectors: map[string][]float32{
		"alpha": {1, 0},
		"beta":  {0, 1},
	}}
	chunks := []document.Chunk{
		chunk("p1_c1", 1, 10, "alpha"),
		chunk("p1_c2", 1, 10, "beta"),
	}

	ix, err := Build(ctx, client, store, chunks, 2)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(ix.Vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(ix.Vectors))
	}
	if got := client.embedCalls.Load(); got != 2 {
		t.Fatalf("expected 2 embed calls on cold cache, got %d", got)
	}

	// A second build over the same chunks is served from cache.
	if _, err := Build(ctx, client, store, chunks, 2); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if got := client.embedCalls.Load(); got != 2 {
		t.Fatalf("expected warm cache to avoid embed calls, got %d total", got)
	}
}

func TestBuildWithoutStore(t *testing.T) {
	client := &fakeEmbedClient{vectors: map[string][]float32{"alpha": {1, 0}}}
	chunks := []document.Chunk{chunk("p1_c1", 1, 10, "alpha")}

	ix, err := Build(context.Background(), client, nil, chunks, 1)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(ix.Vectors) != 1 || ix.Vectors[0][0] != 1 {
		t.Fatalf("unexpected vectors: %v", ix.Vectors)
	}
}
