// Package llm wraps the chat and embedding services behind one narrow
// interface so the pipeline can be exercised against scripted fakes in tests
// and against Ollama or Gemini in production.
package llm

import "context"

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries a prompt plus generation options. Timeouts are owned by
// the caller's context; the pipeline applies distinct budgets for light chat
// calls and the heavier reduce call.
type ChatRequest struct {
	Messages    []Message
	Temperature float32
	JSONMode    bool
}

// Client is the generation/embedding service consumed by the pipeline.
// Embed is deterministic for identical (text, model) pairs.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedModelID identifies the embedding model, used in cache keys.
	EmbedModelID() string
	Close()
}

// ChatJSON performs a chat call in JSON mode and decodes the response into v.
// A response that fails to decode is reported as a *MalformedError so callers
// can retry once with a corrective instruction.
func ChatJSON(ctx context.Context, c Client, req ChatRequest, v any) error {
	req.JSONMode = true
	raw, err := c.Chat(ctx, req)
	if err != nil {
		return err
	}
	return DecodeJSON(raw, v)
}
