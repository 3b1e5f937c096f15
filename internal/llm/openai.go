package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/retry"
)

const openAIEmbeddingModel = "text-embedding-3-small"

// openAIChatClient drives the OpenAI chat completions API.
type openAIChatClient struct {
	client *openai.Client
	model  string
	logger logging.Logger
}

func newOpenAIChat(model, apiKey string) *openAIChatClient {
	return &openAIChatClient{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logging.WithComponent("llm.openai"),
	}
}

func (c *openAIChatClient) Model() string { return c.model }

func (c *openAIChatClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var content string
	err := retry.Do(ctx, retry.OnceMore(), func(ctx context.Context) error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.2,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return &retry.PermanentError{Err: errors.New("no choices returned")}
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", memerr.LLM(fmt.Errorf("chat completion failed: %w", err))
	}
	return content, nil
}

func (c *openAIChatClient) Health(ctx context.Context) error {
	_, err := c.Chat(ctx, "You are a health probe.", "Reply with the single word: ok")
	return err
}

// openAIEmbeddingClient drives the OpenAI embeddings API.
type openAIEmbeddingClient struct {
	client *openai.Client
	logger logging.Logger
}

func newOpenAIEmbeddings(apiKey string) *openAIEmbeddingClient {
	return &openAIEmbeddingClient{
		client: openai.NewClient(apiKey),
		logger: logging.WithComponent("llm.openai"),
	}
}

func (c *openAIEmbeddingClient) Model() string  { return openAIEmbeddingModel }
func (c *openAIEmbeddingClient) Dimension() int { return 1536 }

func (c *openAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	batch, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return batch[0], nil
}

func (c *openAIEmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float64
	err := retry.Do(ctx, retry.OnceMore(), func(ctx context.Context) error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(openAIEmbeddingModel),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(texts) {
			return &retry.PermanentError{
				Err: fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data)),
			}
		}
		out = make([][]float64, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float64, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float64(v)
			}
			out[i] = vec
		}
		return nil
	})
	if err != nil {
		return nil, memerr.LLM(fmt.Errorf("embedding request failed: %w", err))
	}
	return out, nil
}

func (c *openAIEmbeddingClient) Health(ctx context.Context) error {
	_, err := c.Embed(ctx, "ok")
	return err
}
