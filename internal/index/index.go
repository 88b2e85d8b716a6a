// Package index embeds evidence chunks and ranks them against a query
// so the downstream stages work from a bounded, relevant subset.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/longyee25564126/QuizCraft/internal/document"
	"github.com/longyee25564126/QuizCraft/internal/embedcache"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

// Index holds the run's chunks with their embedding vectors, in document
// order. Vectors are parallel to Chunks.
type Index struct {
	Chunks  []document.Chunk
	Vectors [][]float32
}

// Build embeds every chunk through a read-through cache and returns the
// index. A nil store disables caching. Embedding calls run concurrently
// up to the given limit; the first hard failure aborts the build.
func Build(ctx context.Context, client llm.Client, store embedcache.Store, chunks []document.Chunk, concurrency int) (*Index, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, chunk := range chunks {
		g.Go(func() error {
			vec, err := embedText(gctx, client, store, chunk.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Index{Chunks: chunks, Vectors: vectors}, nil
}

func embedText(ctx context.Context, client llm.Client, store embedcache.Store, text string) ([]float32, error) {
	key := embedcache.Key(text, client.EmbedModelID())

	if store != nil {
		if vec, ok, err := store.Get(ctx, key); err == nil && ok {
			return vec, nil
		}
	}

	vec, err := client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if store != nil {
		// A failed cache write only costs a re-embed next time.
		_ = store.Put(ctx, key, vec)
	}
	return vec, nil
}

// EmbedQuery embeds a free-form query through the same cache path the
// chunks use.
func EmbedQuery(ctx context.Context, client llm.Client, store embedcache.Store, query string) ([]float32, error) {
	return embedText(ctx, client, store, query)
}

// Scored pairs a chunk with its similarity score and document position.
type Scored struct {
	Chunk document.Chunk
	Score float64
	Pos   int
}

// Search ranks all chunks by cosine similarity to the query vector and
// returns the top k. Ties break toward earlier document position so
// ranking is deterministic.
func (ix *Index) Search(query []float32, k int) []Scored {
	scored := make([]Scored, 0, len(ix.Chunks))
	for i, chunk := range ix.Chunks {
		scored = append(scored, Scored{
			Chunk: chunk,
			Score: Cosine(query, ix.Vectors[i]),
			Pos:   i,
		})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Pos < scored[b].Pos
	})

	if k > 0 && k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
