// Package memory is the pipeline core: it routes saves across the relational,
// vector, and graph stores based on LLM classification, and fans searches out
// across them.
package memory

import (
	"context"
	"strconv"

	"tiered-mcp-memory/internal/analysis"
	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/rerank"
	"tiered-mcp-memory/internal/storage/graph"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/storage/vector"
	"tiered-mcp-memory/internal/types"
)

const (
	// maxEdgesPerSave caps relationship discovery output.
	maxEdgesPerSave = 10
	// conceptOverlapThreshold gates CONCEPT_SIMILAR edges.
	conceptOverlapThreshold = 0.3
	// affinityThreshold gates RELATED_TO edges.
	affinityThreshold = 0.4
)

// Pipeline wires the stores, the analyzer, and the reranker together. The
// graph store may be nil; every graph interaction degrades to a no-op then.
type Pipeline struct {
	rel      relational.MemoryStore
	vec      vector.Store
	graph    graph.Store
	analyzer analysis.Analyzer
	embedder llm.EmbeddingClient
	reranker *rerank.Reranker
	logger   logging.Logger
}

// New builds a pipeline. graphStore may be nil. Positive timeouts bound every
// call the pipeline makes to the corresponding dependency.
func New(rel relational.MemoryStore, vec vector.Store, graphStore graph.Store,
	analyzer analysis.Analyzer, embedder llm.EmbeddingClient, reranker *rerank.Reranker,
	timeouts Timeouts) *Pipeline {
	if timeouts.Store > 0 {
		rel = timedRelational{MemoryStore: rel, d: timeouts.Store}
	}
	if timeouts.Embedding > 0 {
		embedder = timedEmbedder{EmbeddingClient: embedder, d: timeouts.Embedding}
	}
	if timeouts.Chat > 0 {
		analyzer = timedAnalyzer{Analyzer: analyzer, d: timeouts.Chat}
	}
	return &Pipeline{
		rel:      rel,
		vec:      vec,
		graph:    graphStore,
		analyzer: analyzer,
		embedder: embedder,
		reranker: reranker,
		logger:   logging.WithComponent("pipeline"),
	}
}

// Save runs the full save pipeline. Two identical saves produce two memories;
// callers enforce uniqueness.
func (p *Pipeline) Save(ctx context.Context, category, topic, content string, force []types.GraphEdge) (*types.SaveReceipt, error) {
	if category == types.CategoryCore {
		return p.saveCore(ctx, category, topic, content, force)
	}
	return p.saveAdvanced(ctx, category, topic, content, force)
}

// saveCore is the reserved-category path: the relational row is always kept
// and classification is best-effort enrichment only.
func (p *Pipeline) saveCore(ctx context.Context, category, topic, content string, force []types.GraphEdge) (*types.SaveReceipt, error) {
	m, err := p.rel.SaveMemory(ctx, category, topic, content)
	if err != nil {
		return nil, err
	}

	receipt := &types.SaveReceipt{
		MemoryID:         m.ID,
		KeptInRelational: true,
	}
	if err := p.rel.AddToShortMemory(ctx, m); err != nil {
		p.logger.WarnContext(ctx, "Failed to add core memory to short memory", "id", m.ID, "error", err)
	} else {
		receipt.InShortMemory = true
	}

	cls := p.classify(ctx, m)
	receipt.MemoryType = cls.MemoryType
	receipt.StoredInVector = p.storeConcepts(ctx, m, cls.Concepts)
	receipt.StoredInGraph, receipt.RelationshipsCreated = p.updateGraph(ctx, m, cls.Concepts, force)
	return receipt, nil
}

// saveAdvanced is the six-phase path for non-reserved categories.
func (p *Pipeline) saveAdvanced(ctx context.Context, category, topic, content string, force []types.GraphEdge) (*types.SaveReceipt, error) {
	// Phase 1: provisional relational write.
	m, err := p.rel.SaveMemory(ctx, category, topic, content)
	if err != nil {
		return nil, err
	}

	// Phase 2: classification, with documented defaults on failure.
	cls := p.classify(ctx, m)
	receipt := &types.SaveReceipt{MemoryType: cls.MemoryType}

	// Phase 3: vector enrichment, best-effort.
	receipt.StoredInVector = p.storeConcepts(ctx, m, cls.Concepts)

	// Phase 4: route by type.
	keep := true
	switch {
	case !cls.MemoryType.SignificanceGated():
		// factual and procedural live in the vector store only.
		keep = false
		if _, err := p.rel.Delete(ctx, m.ID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to discard routed memory", "id", m.ID, "error", err)
		}
	default:
		sig, err := p.analyzer.EvaluateSignificance(ctx, m, cls.MemoryType)
		if err != nil {
			// Unjudgeable memories are kept.
			p.logger.WarnContext(ctx, "Significance evaluation failed, keeping memory", "id", m.ID, "error", err)
			receipt.SignificanceReason = "significance unavailable, kept by default"
		} else {
			receipt.SignificanceReason = sig.Reason
			if !sig.Significant {
				keep = false
				if _, err := p.rel.Delete(ctx, m.ID); err != nil {
					p.logger.ErrorContext(ctx, "Failed to discard non-significant memory", "id", m.ID, "error", err)
				}
				if err := p.rel.AddToShortMemory(ctx, m); err != nil {
					p.logger.WarnContext(ctx, "Failed to add to short memory", "id", m.ID, "error", err)
				} else {
					receipt.InShortMemory = true
				}
			}
		}
	}

	receipt.KeptInRelational = keep
	if keep {
		receipt.MemoryID = m.ID
	} else {
		// Sentinel: no relational backing row.
		receipt.MemoryID = 0
		m.ID = 0
	}

	// Phase 5: graph, best-effort.
	receipt.StoredInGraph, receipt.RelationshipsCreated = p.updateGraph(ctx, m, cls.Concepts, force)
	return receipt, nil
}

// classify wraps the analyzer with the factual fallback.
func (p *Pipeline) classify(ctx context.Context, m *types.Memory) *analysis.Classification {
	cls, err := p.analyzer.ClassifyAndExtract(ctx, m)
	if err != nil {
		p.logger.WarnContext(ctx, "Classification failed, applying factual fallback", "id", m.ID, "error", err)
		return analysis.FallbackClassification(m)
	}
	return cls
}

// storeConcepts embeds the concepts with non-empty descriptions and writes
// them to the vector store. Returns whether anything was written.
func (p *Pipeline) storeConcepts(ctx context.Context, m *types.Memory, concepts []types.Concept) bool {
	texts := make([]string, 0, len(concepts))
	indices := make([]int, 0, len(concepts))
	for i, c := range concepts {
		if c.Description != "" {
			texts = append(texts, c.Description)
			indices = append(indices, i)
		}
	}
	if len(texts) == 0 {
		return false
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		p.logger.WarnContext(ctx, "Embedding failed, skipping vector write", "id", m.ID, "error", err)
		return false
	}

	embeddings := make([][]float64, len(concepts))
	for j, idx := range indices {
		embeddings[idx] = vecs[j]
	}

	stored, err := p.vec.StoreConcepts(ctx, m, concepts, embeddings)
	if err != nil {
		p.logger.WarnContext(ctx, "Vector write failed", "id", m.ID, "error", err)
		return false
	}
	return stored > 0
}

// updateGraph upserts the node and creates discovered plus forced edges.
// Returns whether the node was stored and how many edges were created.
func (p *Pipeline) updateGraph(ctx context.Context, m *types.Memory, concepts []types.Concept, force []types.GraphEdge) (bool, int) {
	if p.graph == nil {
		return false, 0
	}

	node := &types.GraphNode{
		ID:          strconv.FormatInt(m.ID, 10),
		Category:    m.Category,
		Topic:       m.Topic,
		ContentHead: m.ContentHead(200),
		Concepts:    joinConceptTitles(concepts),
		CreatedAt:   m.CreatedAt,
	}
	if err := p.graph.UpsertNode(ctx, node); err != nil {
		p.logger.WarnContext(ctx, "Graph upsert failed", "id", m.ID, "error", err)
		return false, 0
	}

	// Forced edges are created as given and take precedence under the cap.
	// An empty FromID means "this memory": callers cannot know the id before
	// the save assigns it.
	edges := append([]types.GraphEdge{}, force...)
	for i := range edges {
		if edges[i].FromID == "" {
			edges[i].FromID = node.ID
		}
	}
	edges = append(edges, p.discoverRelationships(ctx, m, node, concepts)...)
	if len(edges) > maxEdgesPerSave {
		edges = edges[:maxEdgesPerSave]
	}

	created := 0
	for i := range edges {
		if err := p.graph.CreateEdge(ctx, &edges[i]); err != nil {
			p.logger.WarnContext(ctx, "Edge creation failed",
				"from", edges[i].FromID, "to", edges[i].ToID, "type", edges[i].Type, "error", err)
			continue
		}
		created++
	}
	return true, created
}
