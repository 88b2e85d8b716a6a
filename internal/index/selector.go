package index

import (
	"sort"
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// ScopeFilter narrows chunks to an inclusive page range and/or a chapter
// substring before any embedding happens. A page range that matches
// nothing falls back to the full set; a chapter that matches nothing
// keeps the previous selection. The bool reports whether any filter
// actually narrowed the set.
func ScopeFilter(chunks []document.Chunk, pageFrom, pageTo int, chapter string) ([]document.Chunk, bool) {
	filtered := chunks
	narrowed := false

	if pageFrom > 0 || pageTo > 0 {
		var inRange []document.Chunk
		for _, c := range filtered {
			if pageFrom > 0 && c.PageEnd < pageFrom {
				continue
			}
			if pageTo > 0 && c.PageStart > pageTo {
				continue
			}
			inRange = append(inRange, c)
		}
		if len(inRange) > 0 {
			filtered = inRange
			narrowed = true
		}
	}

	if chapter = strings.TrimSpace(chapter); chapter != "" {
		needle := strings.ToLower(chapter)
		var matches []document.Chunk
		for _, c := range filtered {
			if strings.Contains(strings.ToLower(c.Text), needle) {
				matches = append(matches, c)
			}
		}
		if len(matches) > 0 {
			filtered = matches
			narrowed = true
		}
	}

	return filtered, narrowed
}

// SelectAll wraps chunks unchanged as a selection. Used for documents
// short enough that ranking would only discard useful material.
func SelectAll(chunks []document.Chunk) document.SelectionResult {
	return document.SelectionResult{
		Chunks: chunks,
		Mode:   document.SelectAll,
	}
}

// SimilaritySelector picks the chunks most similar to a query, capped
// by count and token budget.
type SimilaritySelector struct {
	TopK         int
	BudgetTokens int
	MinScore     float64
}

// Select ranks the index against the query vector and keeps up to TopK
// chunks whose combined size fits BudgetTokens, returned in document
// order with parallel scores. When even the best match scores below
// MinScore the ranking carries no signal, so the selector falls back to
// a document-order prefix under the same caps.
func (s SimilaritySelector) Select(ix *Index, query []float32) document.SelectionResult {
	ranked := ix.Search(query, 0)
	if len(ranked) == 0 {
		return document.SelectionResult{Mode: document.SelectSimilarity}
	}

	if ranked[0].Score < s.MinScore {
		return s.fallback(ix)
	}

	taken := make([]Scored, 0, s.TopK)
	budget := s.BudgetTokens
	for _, cand := range ranked {
		if s.TopK > 0 && len(taken) >= s.TopK {
			break
		}
		if budget > 0 && cand.Chunk.TokenCount > budget && len(taken) > 0 {
			continue
		}
		taken = append(taken, cand)
		if budget > 0 {
			budget -= cand.Chunk.TokenCount
			if budget <= 0 {
				break
			}
		}
	}

	// Restore document order so the summarizer sees material in reading
	// sequence.
	sort.Slice(taken, func(a, b int) bool { return taken[a].Pos < taken[b].Pos })

	result := document.SelectionResult{
		Chunks: make([]document.Chunk, 0, len(taken)),
		Scores: make([]float64, 0, len(taken)),
		Mode:   document.SelectSimilarity,
	}
	for _, t := range taken {
		result.Chunks = append(result.Chunks, t.Chunk)
		result.Scores = append(result.Scores, t.Score)
	}
	return result
}

func (s SimilaritySelector) fallback(ix *Index) document.SelectionResult {
	result := document.SelectionResult{Mode: document.SelectAll}
	budget := s.BudgetTokens
	for _, c := range ix.Chunks {
		if s.TopK > 0 && len(result.Chunks) >= s.TopK {
			break
		}
		if budget > 0 && c.TokenCount > budget && len(result.Chunks) > 0 {
			break
		}
		result.Chunks = append(result.Chunks, c)
		if budget > 0 {
			budget -= c.TokenCount
			if budget <= 0 {
				break
			}
		}
	}
	return result
}
