// Package analysis classifies memories and scores their significance through
// a chat model with JSON-structured output.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/types"
)

// Classification is the output of one classify-and-extract call.
type Classification struct {
	MemoryType types.MemoryType `json:"memory_type"`
	Concepts   []types.Concept  `json:"concepts"`
}

// Significance is the output of one significance evaluation.
type Significance struct {
	Significant bool   `json:"significant"`
	Reason      string `json:"reason"`
}

// Analyzer is the semantic analysis contract the pipeline depends on. Tests
// substitute a mock; production uses the chat-backed implementation.
type Analyzer interface {
	ClassifyAndExtract(ctx context.Context, m *types.Memory) (*Classification, error)
	EvaluateSignificance(ctx context.Context, m *types.Memory, memoryType types.MemoryType) (*Significance, error)
}

// ChatAnalyzer implements Analyzer over a ChatClient.
type ChatAnalyzer struct {
	chat   llm.ChatClient
	logger logging.Logger
}

// NewChatAnalyzer builds the production analyzer.
func NewChatAnalyzer(chat llm.ChatClient) *ChatAnalyzer {
	return &ChatAnalyzer{
		chat:   chat,
		logger: logging.WithComponent("analysis"),
	}
}

const classifySystemPrompt = `You are a memory classification engine. Classify the given memory and extract its key concepts.

Respond with ONLY a JSON object, no prose, in this exact shape:
{
  "memory_type": one of "factual", "procedural", "experience", "self_reflection", "humor", "collaboration",
  "concepts": [
    {
      "title": "short concept name",
      "description": "one or two sentences capturing the concept",
      "confidence": 0.0 to 1.0,
      "mood": "optional emotional tone",
      "keywords": ["optional", "keywords"]
    }
  ]
}

Rules: between 1 and 4 concepts; every title non-empty; descriptions self-contained so they are useful as standalone search documents.`

const classifyRetryPrompt = `Your previous response was not valid JSON matching the required schema. Respond again with ONLY the JSON object described, nothing else. No markdown fences, no commentary.`

const significanceSystemPrompt = `You are a significance judge for an agent's long-term memory. Decide whether the given memory is significant enough to keep permanently.

Significant memories include: first-time events, trust or partnership milestones, paradigm shifts in understanding, meta-cognitive jumps, breakthroughs in collaboration patterns. Routine or unremarkable events are not significant.

Respond with ONLY a JSON object: {"significant": true or false, "reason": "one sentence"}`

func memoryPrompt(m *types.Memory) string {
	return fmt.Sprintf("Category: %s\nTopic: %s\nContent:\n%s", m.Category, m.Topic, m.Content)
}

// ClassifyAndExtract runs one classification call, retrying once with a
// stricter prompt when the response fails validation. The error return is a
// signal to the pipeline to apply its documented defaults; it never carries a
// partial result.
func (a *ChatAnalyzer) ClassifyAndExtract(ctx context.Context, m *types.Memory) (*Classification, error) {
	prompt := memoryPrompt(m)

	raw, err := a.chat.Chat(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	cls, parseErr := parseClassification(raw)
	if parseErr == nil {
		return cls, nil
	}
	a.logger.Warn("Malformed classification, retrying with strict prompt", "memory_id", m.ID, "error", parseErr)

	raw, err = a.chat.Chat(ctx, classifySystemPrompt+"\n\n"+classifyRetryPrompt, prompt)
	if err != nil {
		return nil, err
	}
	cls, parseErr = parseClassification(raw)
	if parseErr != nil {
		return nil, memerr.LLM(fmt.Errorf("classification unparseable after retry: %w", parseErr))
	}
	return cls, nil
}

// EvaluateSignificance runs one significance call.
func (a *ChatAnalyzer) EvaluateSignificance(ctx context.Context, m *types.Memory, memoryType types.MemoryType) (*Significance, error) {
	prompt := fmt.Sprintf("Memory type: %s\n%s", memoryType, memoryPrompt(m))

	raw, err := a.chat.Chat(ctx, significanceSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}

	var sig Significance
	if err := json.Unmarshal([]byte(extractJSON(raw)), &sig); err != nil {
		return nil, memerr.LLM(fmt.Errorf("significance response unparseable: %w", err))
	}
	return &sig, nil
}

// FallbackClassification is what the pipeline substitutes when analysis
// fails: factual, with the memory itself as the single concept.
func FallbackClassification(m *types.Memory) *Classification {
	return &Classification{
		MemoryType: types.TypeFactual,
		Concepts: []types.Concept{
			{
				Title:       m.Topic,
				Description: m.Content,
				MemoryType:  types.TypeFactual,
				Confidence:  0.5,
			},
		},
	}
}

// parseClassification decodes and validates one classification response.
func parseClassification(raw string) (*Classification, error) {
	var cls Classification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &cls); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if !cls.MemoryType.Valid() {
		return nil, fmt.Errorf("unknown memory_type %q", cls.MemoryType)
	}
	if len(cls.Concepts) < 1 || len(cls.Concepts) > 4 {
		return nil, fmt.Errorf("concept count %d outside [1,4]", len(cls.Concepts))
	}
	for i := range cls.Concepts {
		c := &cls.Concepts[i]
		if strings.TrimSpace(c.Title) == "" {
			return nil, fmt.Errorf("concept %d has empty title", i)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return nil, fmt.Errorf("concept %d confidence %f outside [0,1]", i, c.Confidence)
		}
		if c.MemoryType == "" {
			c.MemoryType = cls.MemoryType
		}
	}
	return &cls, nil
}

// extractJSON strips markdown fences and surrounding prose, keeping the
// outermost JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
