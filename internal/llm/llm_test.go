package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tiered-mcp-memory/internal/config"
)

func TestChatProviderSelection(t *testing.T) {
	tests := []struct {
		model     string
		wantLocal bool
	}{
		{"gpt-4o-mini", false},
		{"gpt-4.1", false},
		{"o1-preview", false},
		{"o3-mini", false},
		{"chatgpt-4o-latest", false},
		{"GPT-4O", false},
		{"llama3.1", true},
		{"qwen2.5:14b", true},
		{"mistral", true},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			client := NewChatClient(&config.LLMConfig{
				ChatModel: tt.model,
				LocalURL:  "http://localhost:11434",
			})
			_, isLocal := client.(*localClient)
			assert.Equal(t, tt.wantLocal, isLocal)
			assert.Equal(t, tt.model, client.Model())
		})
	}
}

func TestEmbeddingProviderSelection(t *testing.T) {
	openaiClient := NewEmbeddingClient(&config.LLMConfig{
		EmbeddingModel: "openai",
		LocalURL:       "http://localhost:11434",
	})
	_, isLocal := openaiClient.(*localClient)
	assert.False(t, isLocal)
	assert.Equal(t, 1536, openaiClient.Dimension())

	local := NewEmbeddingClient(&config.LLMConfig{
		EmbeddingModel: "nomic-embed-text",
		LocalURL:       "http://localhost:11434",
	})
	_, isLocal = local.(*localClient)
	assert.True(t, isLocal)
	assert.Equal(t, 768, local.Dimension())
}

func TestChatAPIKeyFallback(t *testing.T) {
	// CHAT_API_KEY wins when set; OPENAI_API_KEY is the fallback.
	client := NewChatClient(&config.LLMConfig{
		ChatModel:    "gpt-4o-mini",
		ChatAPIKey:   "chat-key",
		OpenAIAPIKey: "openai-key",
	})
	assert.IsType(t, &openAIChatClient{}, client)
}
