// Package chunker splits cleaned page text into overlapping, token-bounded
// evidence chunks. Chunk IDs are deterministic for a given (document, config)
// pair: running the chunker twice on identical input yields identical IDs and
// boundaries.
package chunker

import (
	"strings"

	"github.com/longyee25564126/QuizCraft/internal/document"
)

// Config controls chunking behavior.
type Config struct {
	ChunkTokens    int // Target chunk size in tokens.
	OverlapTokens  int // Overlap between consecutive chunks in tokens.
	MinChunkTokens int // Below this, a trailing fragment merges into the previous chunk.
}

// DefaultConfig returns sensible defaults for lecture material.
func DefaultConfig() Config {
	return Config{
		ChunkTokens:    400,
		OverlapTokens:  60,
		MinChunkTokens: 40,
	}
}

// ChunkPages chunks every page independently, preserving page metadata.
// Pages with no usable text produce no chunks and are returned as skipped
// page numbers; a skipped page is an extraction gap, not a fatal condition.
func ChunkPages(pages []document.Page, cfg Config) ([]document.Chunk, []int) {
	if cfg.ChunkTokens <= 0 {
		cfg.ChunkTokens = 400
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.ChunkTokens {
		cfg.OverlapTokens = cfg.ChunkTokens / 8
	}
	if cfg.MinChunkTokens <= 0 {
		cfg.MinChunkTokens = 40
	}

	var chunks []document.Chunk
	var skipped []int

	for _, page := range pages {
		parts := splitText(page.Text, cfg)
		if len(parts) == 0 {
			skipped = append(skipped, page.Number)
			continue
		}
		for seq, part := range parts {
			chunks = append(chunks, document.Chunk{
				ID:         document.ChunkID(page.Number, seq+1),
				PageStart:  page.Number,
				PageEnd:    page.Number,
				Text:       part,
				TokenCount: EstimateTokens(part),
			})
		}
	}

	return chunks, skipped
}

// splitText breaks page text into chunks of approximately cfg.ChunkTokens,
// with overlap between consecutive chunks. Lines are the natural boundary for
// cleaned slide text; oversized lines fall back to sentence splitting. A
// trailing fragment below MinChunkTokens merges into the previous chunk
// rather than being emitted standalone.
func splitText(text string, cfg Config) []string {
	units := splitUnits(text, cfg.ChunkTokens, cfg.OverlapTokens)
	if len(units) == 0 {
		return nil
	}

	var result []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if currentTokens > 0 {
			result = append(result, current.String())
		}
		current.Reset()
		currentTokens = 0
	}

	for _, unit := range units {
		unitTokens := EstimateTokens(unit)

		if currentTokens+unitTokens > cfg.ChunkTokens && currentTokens > 0 {
			prev := current.String()
			flush()

			// Carry overlap from the end of the previous chunk.
			overlap := overlapText(prev, cfg.OverlapTokens)
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(unit)
		currentTokens += unitTokens
	}

	if currentTokens > 0 {
		if currentTokens < cfg.MinChunkTokens && len(result) > 0 {
			result[len(result)-1] = result[len(result)-1] + "\n" + current.String()
		} else {
			result = append(result, current.String())
		}
	}

	return result
}

// splitUnits yields the packing units for a page: non-empty lines, with lines
// larger than the chunk target pre-split by sentence.
func splitUnits(text string, targetTokens, overlapTokens int) []string {
	var units []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if EstimateTokens(line) > targetTokens {
			units = append(units, splitBySentences(line, targetTokens, overlapTokens)...)
			continue
		}
		units = append(units, line)
	}
	return units
}

// splitBySentences breaks a large paragraph into sentence-based pieces no
// larger than targetTokens.
func splitBySentences(text string, targetTokens, overlapTokens int) []string {
	sentences := splitSentences(text)

	var result []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range sentences {
		sentTokens := EstimateTokens(sent)

		if currentTokens+sentTokens > targetTokens && currentTokens > 0 {
			result = append(result, current.String())
			overlap := overlapText(current.String(), overlapTokens)
			current.Reset()
			currentTokens = 0
			if overlap != "" {
				current.WriteString(overlap)
				currentTokens = EstimateTokens(overlap)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if currentTokens > 0 {
		result = append(result, current.String())
	}

	return result
}

// splitSentences does basic sentence splitting.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, strings.TrimSpace(current.String()))
	}

	return sentences
}

// overlapText extracts the last N tokens worth of text for overlap.
func overlapText(text string, targetTokens int) string {
	words := strings.Fields(text)
	// Approximate: 1.33 tokens per word.
	targetWords := int(float64(targetTokens) / 1.33)
	if targetWords <= 0 || len(words) <= targetWords {
		return ""
	}
	return strings.Join(words[len(words)-targetWords:], " ")
}
