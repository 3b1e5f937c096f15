// Package rerank reorders search candidates by lexical overlap, embedding
// similarity, or a blend of both.
package rerank

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/types"
)

// Strategy names accepted on the wire.
const (
	StrategyText      = "text"
	StrategyEmbedding = "llm"
	StrategyHybrid    = "hybrid"
)

// ValidStrategy reports whether s names a known strategy.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyText, StrategyEmbedding, StrategyHybrid:
		return true
	}
	return false
}

// Reranker reorders candidates for a query.
type Reranker struct {
	embedder llm.EmbeddingClient
	logger   logging.Logger
}

// New builds a reranker. The embedder is required only for the embedding and
// hybrid strategies.
func New(embedder llm.EmbeddingClient) *Reranker {
	return &Reranker{
		embedder: embedder,
		logger:   logging.WithComponent("rerank"),
	}
}

// Rerank returns the candidates reordered by rerank score, descending. Each
// result carries rerank_details documenting its components. The sort is
// stable, so equal scores keep their input order. The input slice is not
// modified.
func (r *Reranker) Rerank(ctx context.Context, strategy, query string, candidates []types.ScoredMemory) ([]types.ScoredMemory, error) {
	if !ValidStrategy(strategy) {
		return nil, fmt.Errorf("unknown rerank strategy %q", strategy)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	out := make([]types.ScoredMemory, len(candidates))
	copy(out, candidates)

	var queryVec []float64
	var candVecs [][]float64
	if strategy == StrategyEmbedding || strategy == StrategyHybrid {
		if r.embedder == nil {
			return nil, fmt.Errorf("embedding reranker not available")
		}
		var err error
		queryVec, candVecs, err = r.embedAll(ctx, query, out)
		if err != nil {
			return nil, err
		}
	}

	for i := range out {
		details := make(map[string]float64, 4)
		details["original_score"] = out[i].RelevanceScore

		var score float64
		switch strategy {
		case StrategyText:
			score = textScore(query, &out[i], details)
		case StrategyEmbedding:
			score = embeddingScore(queryVec, candVecs[i], &out[i], details)
		case StrategyHybrid:
			t := textScore(query, &out[i], details)
			e := embeddingScore(queryVec, candVecs[i], &out[i], details)
			score = (t + e) / 2
		}

		out[i].RerankScore = clamp01(score)
		out[i].RerankDetails = details
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RerankScore > out[j].RerankScore
	})
	return out, nil
}

// candidateText is what the candidate contributes to similarity: the concept
// description when present, otherwise topic plus a content prefix.
func candidateText(c *types.ScoredMemory) string {
	if c.Description != "" {
		return c.Description
	}
	head := c.Content
	if len(head) > 500 {
		head = head[:500]
	}
	return c.Topic + " " + head
}

func textScore(query string, c *types.ScoredMemory, details map[string]float64) float64 {
	j := jaccard(tokenize(query), tokenize(candidateText(c)))
	details["jaccard"] = j
	return 0.5*j + 0.5*c.RelevanceScore
}

func embeddingScore(queryVec, candVec []float64, c *types.ScoredMemory, details map[string]float64) float64 {
	cos := cosine(queryVec, candVec)
	details["cosine"] = cos
	return 0.7*cos + 0.3*c.RelevanceScore
}

func (r *Reranker) embedAll(ctx context.Context, query string, candidates []types.ScoredMemory) ([]float64, [][]float64, error) {
	texts := make([]string, 0, len(candidates)+1)
	texts = append(texts, query)
	for i := range candidates {
		texts = append(texts, candidateText(&candidates[i]))
	}

	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("rerank embedding failed: %w", err)
	}
	return vecs[0], vecs[1:], nil
}

// tokenize lower-cases and splits on non-alphanumeric runes.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		tokens[tok] = true
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
