package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tiered-mcp-memory/internal/analysis"
	"tiered-mcp-memory/internal/storage/graph"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/storage/vector"
	"tiered-mcp-memory/internal/types"
)

// mockRel is an in-memory relational.MemoryStore.
type mockRel struct {
	mu        sync.Mutex
	nextID    int64
	rows      map[int64]*types.Memory
	shortCap  int
	jobs      map[string]*types.AnalysisJob
	results   map[string][]types.AnalysisResult
	failSave  bool
	failShort bool
}

func newMockRel() *mockRel {
	return &mockRel{
		rows:     make(map[int64]*types.Memory),
		shortCap: 10,
		jobs:     make(map[string]*types.AnalysisJob),
		results:  make(map[string][]types.AnalysisResult),
	}
}

func (r *mockRel) SaveMemory(_ context.Context, category, topic, content string) (*types.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return nil, errBoom
	}
	m := &types.Memory{
		Date:      time.Now().UTC().Format("2006-01-02"),
		Category:  category,
		Topic:     topic,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	r.nextID++
	m.ID = r.nextID
	copied := *m
	r.rows[m.ID] = &copied
	return m, nil
}

func (r *mockRel) GetByID(_ context.Context, id int64) (*types.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[id]; ok {
		copied := *m
		return &copied, nil
	}
	return nil, nil
}

func (r *mockRel) Update(_ context.Context, id int64, upd relational.MemoryUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if upd.Topic != nil {
		m.Topic = *upd.Topic
	}
	if upd.Content != nil {
		m.Content = *upd.Content
	}
	if upd.Category != nil {
		m.Category = *upd.Category
	}
	return true, nil
}

func (r *mockRel) Move(ctx context.Context, id int64, newCategory string) (bool, error) {
	if strings.TrimSpace(newCategory) == "" {
		return false, errBoom
	}
	return r.Update(ctx, id, relational.MemoryUpdate{Category: &newCategory})
}

func (r *mockRel) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *mockRel) SearchBasic(_ context.Context, query string, categories []string) ([]types.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := strings.ToLower(query)
	allowed := make(map[string]bool)
	for _, c := range categories {
		allowed[c] = true
	}
	var out []types.Memory
	for _, m := range r.rows {
		if len(allowed) > 0 && !allowed[m.Category] {
			continue
		}
		if strings.Contains(strings.ToLower(m.Topic), q) || strings.Contains(strings.ToLower(m.Content), q) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *mockRel) Recent(_ context.Context, limit int) ([]types.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Memory
	for _, m := range r.rows {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRel) ByCategory(_ context.Context, category string, limit int) ([]types.Memory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Memory
	for _, m := range r.rows {
		if m.Category == category {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRel) ListCategories(_ context.Context) ([]types.CategoryCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, m := range r.rows {
		counts[m.Category]++
	}
	var out []types.CategoryCount
	for c, n := range counts {
		out = append(out, types.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}

func (r *mockRel) AddToShortMemory(ctx context.Context, m *types.Memory) error {
	r.mu.Lock()
	fail := r.failShort
	r.mu.Unlock()
	if fail {
		return errBoom
	}
	saved, err := r.SaveMemory(ctx, types.CategoryShortTerm, m.Topic, m.Content)
	if err != nil {
		return err
	}
	_ = saved
	r.mu.Lock()
	defer r.mu.Unlock()
	var shortIDs []int64
	for id, row := range r.rows {
		if row.Category == types.CategoryShortTerm {
			shortIDs = append(shortIDs, id)
		}
	}
	sort.Slice(shortIDs, func(i, j int) bool { return shortIDs[i] < shortIDs[j] })
	for len(shortIDs) > r.shortCap {
		delete(r.rows, shortIDs[0])
		shortIDs = shortIDs[1:]
	}
	return nil
}

func (r *mockRel) ListShortMemory(ctx context.Context, limit int) ([]types.Memory, error) {
	return r.ByCategory(ctx, types.CategoryShortTerm, limit)
}

func (r *mockRel) Stats(_ context.Context) (*types.StoreStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &types.StoreStats{ByCategory: make(map[string]int64), DBType: "mock"}
	for _, m := range r.rows {
		stats.ByCategory[m.Category]++
		stats.Total++
	}
	return stats, nil
}

func (r *mockRel) Health(_ context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true, Detail: "mock"}
}

func (r *mockRel) SaveJob(_ context.Context, job *types.AnalysisJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.ID] = &copied
	return nil
}

func (r *mockRel) GetJob(_ context.Context, id string) (*types.AnalysisJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, nil
}

func (r *mockRel) UpdateJobProgress(_ context.Context, id string, current int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.ProgressCurrent = current
	}
	return nil
}

func (r *mockRel) SetJobStatus(_ context.Context, id string, status types.JobStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.Status = status
		now := time.Now().UTC()
		switch status {
		case types.JobRunning:
			j.StartedAt = &now
		case types.JobCompleted, types.JobFailed:
			j.CompletedAt = &now
			j.ErrorMessage = errorMessage
		}
	}
	return nil
}

func (r *mockRel) AppendAnalysisResult(_ context.Context, jobID string, res *types.AnalysisResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[jobID] = append(r.results[jobID], *res)
	return nil
}

func (r *mockRel) ResultsForJob(_ context.Context, jobID string) ([]types.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.AnalysisResult{}, r.results[jobID]...), nil
}

func (r *mockRel) Close() error { return nil }

// mockVec is an in-memory vector.Store.
type mockVec struct {
	mu        sync.Mutex
	stored    map[int64][]types.Concept
	hits      []vector.ConceptHit
	failStore bool
	failQuery bool
}

func newMockVec() *mockVec {
	return &mockVec{stored: make(map[int64][]types.Concept)}
}

func (v *mockVec) Initialize(_ context.Context) error { return nil }

func (v *mockVec) StoreConcepts(_ context.Context, m *types.Memory, concepts []types.Concept, embeddings [][]float64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failStore {
		return 0, errBoom
	}
	n := 0
	for i, c := range concepts {
		if c.Description == "" || i >= len(embeddings) || len(embeddings[i]) == 0 {
			continue
		}
		v.stored[m.ID] = append(v.stored[m.ID], c)
		n++
	}
	return n, nil
}

func (v *mockVec) SearchSimilar(_ context.Context, _ []float64, limit int, categories []string, _ float64) ([]vector.ConceptHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failQuery {
		return nil, errBoom
	}
	allowed := make(map[string]bool)
	for _, c := range categories {
		allowed[c] = true
	}
	var out []vector.ConceptHit
	for _, h := range v.hits {
		if len(allowed) > 0 && !allowed[h.Category] {
			continue
		}
		out = append(out, h)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *mockVec) ConceptsForMemory(_ context.Context, memoryID int64) ([]vector.ConceptHit, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []vector.ConceptHit
	for _, c := range v.stored[memoryID] {
		out = append(out, vector.ConceptHit{MemoryID: memoryID, Title: c.Title, Description: c.Description})
	}
	return out, nil
}

func (v *mockVec) DeleteForMemory(_ context.Context, memoryID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.stored, memoryID)
	return nil
}

func (v *mockVec) Count(_ context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var n int64
	for _, cs := range v.stored {
		n += int64(len(cs))
	}
	return n, nil
}

func (v *mockVec) Health(_ context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true, Detail: "mock"}
}

func (v *mockVec) Close() error { return nil }

// mockGraph is an in-memory graph.Store.
type mockGraph struct {
	mu         sync.Mutex
	nodes      map[string]types.GraphNode
	edges      []types.GraphEdge
	related    map[string][]graph.Neighbor
	candidates []types.GraphNode
}

func newMockGraph() *mockGraph {
	return &mockGraph{
		nodes:   make(map[string]types.GraphNode),
		related: make(map[string][]graph.Neighbor),
	}
}

func (g *mockGraph) UpsertNode(_ context.Context, node *types.GraphNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[node.ID] = *node
	return nil
}

func (g *mockGraph) CreateEdge(_ context.Context, edge *types.GraphEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.edges {
		if e.FromID == edge.FromID && e.ToID == edge.ToID && e.Type == edge.Type {
			return nil
		}
	}
	g.edges = append(g.edges, *edge)
	return nil
}

func (g *mockGraph) Neighborhood(_ context.Context, id string, _ int) (*types.GraphNeighborhood, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hood := &types.GraphNeighborhood{}
	if n, ok := g.nodes[id]; ok {
		hood.Nodes = append(hood.Nodes, n)
	}
	for _, e := range g.edges {
		if e.FromID == id || e.ToID == id {
			hood.Edges = append(hood.Edges, e)
		}
	}
	return hood, nil
}

func (g *mockGraph) RelatedIDs(_ context.Context, id string, _ int) ([]graph.Neighbor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]graph.Neighbor{}, g.related[id]...), nil
}

func (g *mockGraph) FindCandidatesByContent(_ context.Context, _ string, limit int) ([]types.GraphNode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := append([]types.GraphNode{}, g.candidates...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *mockGraph) DeleteNode(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes, id)
	return nil
}

func (g *mockGraph) Statistics(_ context.Context) (*types.GraphStats, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := &types.GraphStats{
		TotalNodes:     int64(len(g.nodes)),
		TotalEdges:     int64(len(g.edges)),
		EdgeTypeCounts: make(map[string]int64),
	}
	for _, e := range g.edges {
		stats.EdgeTypeCounts[string(e.Type)]++
	}
	return stats, nil
}

func (g *mockGraph) Health(_ context.Context) types.HealthStatus {
	return types.HealthStatus{OK: true, Detail: "mock"}
}

func (g *mockGraph) Close(_ context.Context) error { return nil }

// mockAnalyzer returns scripted classifications and significance verdicts.
type mockAnalyzer struct {
	classification  *analysis.Classification
	classifyErr     error
	significance    *analysis.Significance
	significanceErr error
}

func (a *mockAnalyzer) ClassifyAndExtract(_ context.Context, _ *types.Memory) (*analysis.Classification, error) {
	if a.classifyErr != nil {
		return nil, a.classifyErr
	}
	return a.classification, nil
}

func (a *mockAnalyzer) EvaluateSignificance(_ context.Context, _ *types.Memory, _ types.MemoryType) (*analysis.Significance, error) {
	if a.significanceErr != nil {
		return nil, a.significanceErr
	}
	return a.significance, nil
}

// mockEmbedder returns a constant vector per text.
type mockEmbedder struct {
	failEmbed bool
}

func (e *mockEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	if e.failEmbed {
		return nil, errBoom
	}
	return []float64{1, 0, 0}, nil
}

func (e *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		vec, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *mockEmbedder) Dimension() int                 { return 3 }
func (e *mockEmbedder) Model() string                  { return "mock" }
func (e *mockEmbedder) Health(_ context.Context) error { return nil }
