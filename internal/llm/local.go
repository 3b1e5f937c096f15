package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/retry"
)

// localDimension matches the default output size of common local embedding
// models (nomic-embed-text and friends).
const localDimension = 768

// localClient talks to an ollama-compatible HTTP endpoint for both chat and
// embeddings.
type localClient struct {
	baseURL string
	model   string
	http    *http.Client
	logger  logging.Logger
}

func newLocalClient(baseURL, model string) *localClient {
	return &localClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logging.WithComponent("llm.local"),
	}
}

func (c *localClient) Model() string  { return c.model }
func (c *localClient) Dimension() int { return localDimension }

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Message localChatMessage `json:"message"`
}

func (c *localClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := localChatRequest{
		Model: c.model,
		Messages: []localChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	var resp localChatResponse
	err := retry.Do(ctx, retry.OnceMore(), func(ctx context.Context) error {
		return c.post(ctx, "/api/chat", req, &resp)
	})
	if err != nil {
		return "", memerr.LLM(fmt.Errorf("local chat failed: %w", err))
	}
	return resp.Message.Content, nil
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *localClient) Embed(ctx context.Context, text string) ([]float64, error) {
	req := localEmbedRequest{Model: c.model, Prompt: text}

	var resp localEmbedResponse
	err := retry.Do(ctx, retry.OnceMore(), func(ctx context.Context) error {
		return c.post(ctx, "/api/embeddings", req, &resp)
	})
	if err != nil {
		return nil, memerr.LLM(fmt.Errorf("local embedding failed: %w", err))
	}
	return resp.Embedding, nil
}

func (c *localClient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	// The local API embeds one prompt per request.
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *localClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return memerr.Unavailable("local-llm", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return memerr.Unavailable("local-llm", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func (c *localClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &retry.PermanentError{Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &retry.PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("local llm returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &retry.PermanentError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
