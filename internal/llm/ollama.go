package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaClient calls a local Ollama server for chat and embeddings.
type OllamaClient struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
	stats      *Stats
}

func NewOllamaClient(baseURL, chatModel, embedModel string, stats *Stats) *OllamaClient {
	return &OllamaClient{
		baseURL:    baseURL,
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context.
			Timeout: 0,
		},
		stats: stats,
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Chat sends a chat request and returns the raw response text.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body := ollamaChatRequest{
		Model:    c.chatModel,
		Messages: req.Messages,
		Stream:   false,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.JSONMode {
		body.Format = "json"
	}

	start := time.Now()
	var resp ollamaChatResponse
	err := c.post(ctx, "/api/chat", body, &resp)
	c.stats.Record(time.Since(start).Milliseconds())
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", resp.Error)
	}
	return resp.Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var resp ollamaEmbedResponse
	err := c.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: c.embedModel, Prompt: text}, &resp)
	c.stats.Record(time.Since(start).Milliseconds())
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama embed: %s", resp.Error)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty vector")
	}
	return resp.Embedding, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// A blown deadline is a transient failure for the caller's retry loop.
		if errors.Is(err, context.DeadlineExceeded) {
			return &RetryableError{StatusCode: 0, Message: "request timed out"}
		}
		return fmt.Errorf("ollama api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(raw),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama api status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	if err := json.Unmarshal(raw, respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// EmbedModelID identifies the embedding model for cache keys.
func (c *OllamaClient) EmbedModelID() string {
	return c.embedModel
}

// CheckHealth verifies the server is reachable.
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health status %d", resp.StatusCode)
	}
	return nil
}

// Close releases resources.
func (c *OllamaClient) Close() {
	c.httpClient.CloseIdleConnections()
}
