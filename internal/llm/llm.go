// Package llm provides chat and embedding clients behind small interfaces,
// selected by model string at startup.
package llm

import (
	"context"
	"strings"

	"tiered-mcp-memory/internal/config"
)

// ChatClient generates a completion for a system/user prompt pair.
type ChatClient interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
	Health(ctx context.Context) error
}

// EmbeddingClient turns text into vectors.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	Model() string
	Health(ctx context.Context) error
}

// openAIChatPrefixes are the model-name prefixes routed to the OpenAI API.
var openAIChatPrefixes = []string{"gpt", "o1", "o3", "chatgpt"}

func isOpenAIChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, p := range openAIChatPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// NewChatClient selects the chat provider from the configured model string.
// Recognized OpenAI model prefixes go to the OpenAI API; anything else is
// assumed to be served by the local endpoint.
func NewChatClient(cfg *config.LLMConfig) ChatClient {
	if isOpenAIChatModel(cfg.ChatModel) {
		key := cfg.ChatAPIKey
		if key == "" {
			key = cfg.OpenAIAPIKey
		}
		return newOpenAIChat(cfg.ChatModel, key)
	}
	return newLocalClient(cfg.LocalURL, cfg.ChatModel)
}

// NewEmbeddingClient selects the embedding provider. The exact string
// "openai" selects the OpenAI embeddings API; anything else names a local
// model.
func NewEmbeddingClient(cfg *config.LLMConfig) EmbeddingClient {
	if strings.EqualFold(cfg.EmbeddingModel, "openai") {
		return newOpenAIEmbeddings(cfg.OpenAIAPIKey)
	}
	return newLocalClient(cfg.LocalURL, cfg.EmbeddingModel)
}
