package chunker

import "strings"

// EstimateTokens gives a rough token count using a words-based heuristic.
// Exact tokenization is not required for chunking or budget enforcement.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	// Roughly 1.33 tokens per word for English text.
	tokens := int(float64(words) * 1.33)
	if tokens < 1 && len(text) > 0 {
		tokens = 1
	}
	return tokens
}

// TrimToTokens cuts text at a word boundary so its estimated token count does
// not exceed maxTokens. Budgets are hard ceilings: callers rely on the result
// never estimating above maxTokens.
func TrimToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	words := strings.Fields(text)
	keep := int(float64(maxTokens) / 1.33)
	if keep < 1 {
		keep = 1
	}
	if keep > len(words) {
		keep = len(words)
	}
	return strings.Join(words[:keep], " ")
}
