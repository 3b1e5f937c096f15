package memory

import (
	"context"
	"time"

	"tiered-mcp-memory/internal/analysis"
	"tiered-mcp-memory/internal/llm"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/types"
)

// Timeouts holds the per-call deadlines the pipeline applies to its
// dependencies. A zero duration leaves that dependency unbounded.
type Timeouts struct {
	Chat      time.Duration
	Embedding time.Duration
	Store     time.Duration
}

func deadlineCtx(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// timedRelational bounds the store calls the pipeline itself makes. Job
// persistence passes through untouched; the job manager owns those calls.
type timedRelational struct {
	relational.MemoryStore
	d time.Duration
}

func (s timedRelational) SaveMemory(ctx context.Context, category, topic, content string) (*types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.SaveMemory(ctx, category, topic, content)
}

func (s timedRelational) GetByID(ctx context.Context, id int64) (*types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.GetByID(ctx, id)
}

func (s timedRelational) Update(ctx context.Context, id int64, upd relational.MemoryUpdate) (bool, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Update(ctx, id, upd)
}

func (s timedRelational) Move(ctx context.Context, id int64, newCategory string) (bool, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Move(ctx, id, newCategory)
}

func (s timedRelational) Delete(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Delete(ctx, id)
}

func (s timedRelational) SearchBasic(ctx context.Context, query string, categories []string) ([]types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.SearchBasic(ctx, query, categories)
}

func (s timedRelational) Recent(ctx context.Context, limit int) ([]types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Recent(ctx, limit)
}

func (s timedRelational) ByCategory(ctx context.Context, category string, limit int) ([]types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.ByCategory(ctx, category, limit)
}

func (s timedRelational) ListCategories(ctx context.Context) ([]types.CategoryCount, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.ListCategories(ctx)
}

func (s timedRelational) AddToShortMemory(ctx context.Context, m *types.Memory) error {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.AddToShortMemory(ctx, m)
}

func (s timedRelational) ListShortMemory(ctx context.Context, limit int) ([]types.Memory, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.ListShortMemory(ctx, limit)
}

func (s timedRelational) Stats(ctx context.Context) (*types.StoreStats, error) {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Stats(ctx)
}

func (s timedRelational) Health(ctx context.Context) types.HealthStatus {
	ctx, cancel := deadlineCtx(ctx, s.d)
	defer cancel()
	return s.MemoryStore.Health(ctx)
}

// timedEmbedder bounds embedding calls.
type timedEmbedder struct {
	llm.EmbeddingClient
	d time.Duration
}

func (e timedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := deadlineCtx(ctx, e.d)
	defer cancel()
	return e.EmbeddingClient.Embed(ctx, text)
}

func (e timedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := deadlineCtx(ctx, e.d)
	defer cancel()
	return e.EmbeddingClient.EmbedBatch(ctx, texts)
}

// timedAnalyzer bounds both analyzer calls with the chat deadline.
type timedAnalyzer struct {
	analysis.Analyzer
	d time.Duration
}

func (a timedAnalyzer) ClassifyAndExtract(ctx context.Context, m *types.Memory) (*analysis.Classification, error) {
	ctx, cancel := deadlineCtx(ctx, a.d)
	defer cancel()
	return a.Analyzer.ClassifyAndExtract(ctx, m)
}

func (a timedAnalyzer) EvaluateSignificance(ctx context.Context, m *types.Memory, memoryType types.MemoryType) (*analysis.Significance, error) {
	ctx, cancel := deadlineCtx(ctx, a.d)
	defer cancel()
	return a.Analyzer.EvaluateSignificance(ctx, m, memoryType)
}
