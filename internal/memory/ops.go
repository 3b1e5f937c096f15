package memory

import (
	"context"
	"errors"
	"strconv"

	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/storage/relational"
	"tiered-mcp-memory/internal/storage/vector"
	"tiered-mcp-memory/internal/types"
)

// SyncWarning accompanies relational-only mutations: vector and graph records
// are not rewritten, a re-save is needed for full re-sync.
const SyncWarning = "vector/graph not synchronized"

var errGraphDisabled = errors.New("not configured")

// Update applies a partial update to the relational row only.
func (p *Pipeline) Update(ctx context.Context, id int64, upd relational.MemoryUpdate) (bool, string, error) {
	ok, err := p.rel.Update(ctx, id, upd)
	if err != nil {
		return false, "", err
	}
	return ok, SyncWarning, nil
}

// Move re-categorizes the relational row only.
func (p *Pipeline) Move(ctx context.Context, id int64, newCategory string) (bool, string, error) {
	ok, err := p.rel.Move(ctx, id, newCategory)
	if err != nil {
		return false, "", err
	}
	return ok, SyncWarning, nil
}

// GraphContext returns the neighborhood around one memory. depth must be in
// [1,4].
func (p *Pipeline) GraphContext(ctx context.Context, id int64, depth int) (*types.GraphNeighborhood, error) {
	if depth < 1 || depth > 4 {
		return nil, memerr.Validationf("depth must be between 1 and 4, got %d", depth)
	}
	if p.graph == nil {
		return nil, memerr.Unavailable("graph", errGraphDisabled)
	}
	return p.graph.Neighborhood(ctx, strconv.FormatInt(id, 10), depth)
}

// GraphStats reports graph store counters.
func (p *Pipeline) GraphStats(ctx context.Context) (*types.GraphStats, error) {
	if p.graph == nil {
		return nil, memerr.Unavailable("graph", errGraphDisabled)
	}
	return p.graph.Statistics(ctx)
}

// AdvancedMemory is the full cross-store view of one memory.
type AdvancedMemory struct {
	Memory       *types.Memory            `json:"memory"`
	Concepts     []vector.ConceptHit      `json:"concepts"`
	Neighborhood *types.GraphNeighborhood `json:"neighborhood,omitempty"`
}

// RetrieveAdvanced assembles the relational row, its stored concepts, and its
// graph neighborhood. Missing pieces come back empty rather than failing the
// whole call.
func (p *Pipeline) RetrieveAdvanced(ctx context.Context, id int64) (*AdvancedMemory, error) {
	m, err := p.rel.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &AdvancedMemory{Memory: m}

	concepts, err := p.vec.ConceptsForMemory(ctx, id)
	if err != nil {
		p.logger.WarnContext(ctx, "Concept lookup failed", "id", id, "error", err)
	} else {
		out.Concepts = concepts
	}

	if p.graph != nil {
		hood, err := p.graph.Neighborhood(ctx, strconv.FormatInt(id, 10), 2)
		if err != nil {
			p.logger.WarnContext(ctx, "Neighborhood lookup failed", "id", id, "error", err)
		} else {
			out.Neighborhood = hood
		}
	}
	return out, nil
}

// StatusReport is the memory_status payload.
type StatusReport struct {
	Relational   types.HealthStatus `json:"relational"`
	Vector       types.HealthStatus `json:"vector"`
	Graph        types.HealthStatus `json:"graph"`
	GraphEnabled bool               `json:"graph_enabled"`
	Stats        *types.StoreStats  `json:"stats,omitempty"`
	VectorCount  int64              `json:"vector_count"`
}

// Status probes every backend.
func (p *Pipeline) Status(ctx context.Context) *StatusReport {
	report := &StatusReport{
		Relational:   p.rel.Health(ctx),
		Vector:       p.vec.Health(ctx),
		GraphEnabled: p.graph != nil,
	}
	if p.graph != nil {
		report.Graph = p.graph.Health(ctx)
	} else {
		report.Graph = types.HealthStatus{OK: false, Detail: "not configured"}
	}

	if stats, err := p.rel.Stats(ctx); err == nil {
		report.Stats = stats
	}
	if count, err := p.vec.Count(ctx); err == nil {
		report.VectorCount = count
	}
	return report
}
