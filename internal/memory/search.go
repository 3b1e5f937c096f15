package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"tiered-mcp-memory/internal/rerank"
	"tiered-mcp-memory/internal/storage/vector"
	"tiered-mcp-memory/internal/types"
)

const (
	// vectorTopK is how many vector hits a unified search requests.
	vectorTopK = 20
	// relationalOnlyScore is assigned to rows found only by substring match.
	relationalOnlyScore = 0.5
	// graphSeedLimit is how many base results seed graph expansion.
	graphSeedLimit = 5
	// graphDecay discounts neighbor scores per hop.
	graphDecay = 0.7
	// graphBonus is the sort bonus for graph-enhanced results.
	graphBonus = 0.1
	// maxSearchResults caps graph-expanded result sets.
	maxSearchResults = 50
)

// SearchIntelligent fans out to the relational and vector stores in parallel
// and merges. The strategy is chosen adaptively: hybrid normally, vector_only
// when the relational leg returns nothing (or fails), relational_only when
// the vector leg fails.
func (p *Pipeline) SearchIntelligent(ctx context.Context, query string, categories []string, doRerank bool, strategy string) *types.SearchResult {
	var (
		relRows []types.Memory
		relErr  error
		vecHits []vector.ConceptHit
		vecErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		relRows, relErr = p.rel.SearchBasic(gctx, query, categories)
		return nil
	})
	g.Go(func() error {
		vecHits, vecErr = p.vectorSearch(gctx, query, categories)
		return nil
	})
	_ = g.Wait()

	if relErr != nil && vecErr != nil {
		return &types.SearchResult{
			Success: false,
			Error:   fmt.Sprintf("all backends failed: relational: %v; vector: %v", relErr, vecErr),
		}
	}
	if relErr != nil {
		p.logger.WarnContext(ctx, "Relational search failed, degrading to vector_only", "error", relErr)
	}
	if vecErr != nil {
		p.logger.WarnContext(ctx, "Vector search failed, degrading to relational_only", "error", vecErr)
	}

	result := &types.SearchResult{
		Success:           true,
		RelationalResults: relRows,
	}
	switch {
	case vecErr != nil:
		result.SearchStrategy = types.StrategyRelationalOnly
	case relErr != nil || len(relRows) == 0:
		result.SearchStrategy = types.StrategyVectorOnly
	default:
		result.SearchStrategy = types.StrategyHybrid
	}

	result.VectorResults = hitsToScored(vecHits)
	result.CombinedResults = mergeResults(relRows, result.VectorResults)

	if doRerank && len(result.CombinedResults) > 0 {
		if strategy == "" {
			strategy = rerank.StrategyHybrid
		}
		reranked, err := p.reranker.Rerank(ctx, strategy, query, result.CombinedResults)
		if err != nil {
			p.logger.WarnContext(ctx, "Rerank failed, returning merge order", "strategy", strategy, "error", err)
		} else {
			result.RerankStrategy = strategy
			result.RerankedResults = reranked
		}
	}
	return result
}

func (p *Pipeline) vectorSearch(ctx context.Context, query string, categories []string) ([]vector.ConceptHit, error) {
	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	return p.vec.SearchSimilar(ctx, embedding, vectorTopK, categories, 0)
}

func hitsToScored(hits []vector.ConceptHit) []types.ScoredMemory {
	out := make([]types.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		out = append(out, types.ScoredMemory{
			MemoryID:       h.MemoryID,
			Category:       h.Category,
			Topic:          h.Topic,
			Description:    h.Description,
			RelevanceScore: h.Score,
			Sources:        []string{"vector"},
		})
	}
	return out
}

// mergeResults deduplicates by memory id, keeping the higher-scoring source
// and recording every source that found the item.
func mergeResults(relRows []types.Memory, vecResults []types.ScoredMemory) []types.ScoredMemory {
	byID := make(map[int64]*types.ScoredMemory)
	order := make([]int64, 0, len(vecResults)+len(relRows))

	for i := range vecResults {
		v := vecResults[i]
		if existing, ok := byID[v.MemoryID]; ok {
			if v.RelevanceScore > existing.RelevanceScore {
				sources := existing.Sources
				*existing = v
				existing.Sources = sources
			}
			continue
		}
		copied := v
		byID[v.MemoryID] = &copied
		order = append(order, v.MemoryID)
	}

	for i := range relRows {
		r := &relRows[i]
		if existing, ok := byID[r.ID]; ok {
			existing.Sources = append(existing.Sources, "relational")
			if existing.Content == "" {
				existing.Content = r.Content
			}
			continue
		}
		byID[r.ID] = &types.ScoredMemory{
			MemoryID:       r.ID,
			Category:       r.Category,
			Topic:          r.Topic,
			Content:        r.Content,
			RelevanceScore: relationalOnlyScore,
			Sources:        []string{"relational"},
		}
		order = append(order, r.ID)
	}

	out := make([]types.ScoredMemory, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	return out
}

// SearchWithGraph runs a unified search, then pulls in graph neighbors of the
// top results with per-hop score decay.
func (p *Pipeline) SearchWithGraph(ctx context.Context, query string, categories []string, includeRelated bool, maxDepth int) *types.SearchResult {
	result := p.SearchIntelligent(ctx, query, categories, false, "")
	if !result.Success {
		return result
	}
	if p.graph == nil || !includeRelated {
		return result
	}

	seen := make(map[int64]bool, len(result.CombinedResults))
	for _, r := range result.CombinedResults {
		seen[r.MemoryID] = true
	}

	seeds := result.CombinedResults
	if len(seeds) > graphSeedLimit {
		seeds = seeds[:graphSeedLimit]
	}

	enhanced := result.CombinedResults
	for _, seed := range seeds {
		if seed.MemoryID == 0 {
			continue
		}
		neighbors, err := p.graph.RelatedIDs(ctx, strconv.FormatInt(seed.MemoryID, 10), maxDepth)
		if err != nil {
			p.logger.WarnContext(ctx, "Graph expansion failed", "id", seed.MemoryID, "error", err)
			continue
		}
		for _, n := range neighbors {
			nid, err := strconv.ParseInt(n.ID, 10, 64)
			if err != nil || nid == 0 || seen[nid] {
				continue
			}
			seen[nid] = true

			m, err := p.rel.GetByID(ctx, nid)
			if err != nil || m == nil {
				continue
			}
			enhanced = append(enhanced, types.ScoredMemory{
				MemoryID:       nid,
				Category:       m.Category,
				Topic:          m.Topic,
				Content:        m.Content,
				RelevanceScore: seed.RelevanceScore * math.Pow(graphDecay, float64(n.Depth)),
				Sources:        []string{"graph"},
				GraphEnhanced:  true,
			})
		}
	}

	sort.SliceStable(enhanced, func(i, j int) bool {
		return sortScore(&enhanced[i]) > sortScore(&enhanced[j])
	})
	if len(enhanced) > maxSearchResults {
		enhanced = enhanced[:maxSearchResults]
	}
	result.CombinedResults = enhanced
	return result
}

func sortScore(s *types.ScoredMemory) float64 {
	if s.GraphEnhanced {
		return s.RelevanceScore + graphBonus
	}
	return s.RelevanceScore
}
