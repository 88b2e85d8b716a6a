package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient is the hosted alternative to the local Ollama provider.
type GeminiClient struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	stats      *Stats
}

func NewGeminiClient(ctx context.Context, apiKey, chatModel, embedModel string, stats *Stats) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client:     client,
		chatModel:  chatModel,
		embedModel: embedModel,
		stats:      stats,
	}, nil
}

func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	model := c.client.GenerativeModel(c.chatModel)
	model.SetTemperature(req.Temperature)
	if req.JSONMode {
		model.ResponseMIMEType = "application/json"
	}

	// Gemini takes a single prompt plus an optional system instruction.
	var system, prompt strings.Builder
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system.WriteString(m.Content)
			system.WriteString("\n")
		default:
			prompt.WriteString(m.Content)
			prompt.WriteString("\n")
		}
	}
	if system.Len() > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system.String())},
		}
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt.String()))
	c.stats.Record(time.Since(start).Milliseconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &RetryableError{StatusCode: 0, Message: "request timed out"}
		}
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini chat: empty response")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel(c.embedModel)

	start := time.Now()
	res, err := em.EmbedContent(ctx, genai.Text(text))
	c.stats.Record(time.Since(start).Milliseconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &RetryableError{StatusCode: 0, Message: "request timed out"}
		}
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty vector")
	}
	return res.Embedding.Values, nil
}

func (c *GeminiClient) EmbedModelID() string {
	return c.embedModel
}

func (c *GeminiClient) Close() {
	c.client.Close()
}
