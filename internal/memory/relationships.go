package memory

import (
	"context"
	"math"
	"strings"
	"time"

	"tiered-mcp-memory/internal/types"
)

// temporalWindow is the span over which temporal proximity decays to zero.
const temporalWindow = 7 * 24 * time.Hour

// discoverRelationships finds related nodes by content and scores affinity:
// 0.5 for shared category, 0.3 weighted by concept overlap, 0.2 by temporal
// proximity.
func (p *Pipeline) discoverRelationships(ctx context.Context, m *types.Memory, node *types.GraphNode, concepts []types.Concept) []types.GraphEdge {
	query := conceptQueryText(concepts)
	if query == "" {
		query = m.Topic
	}

	candidates, err := p.graph.FindCandidatesByContent(ctx, query, 10)
	if err != nil {
		p.logger.WarnContext(ctx, "Candidate lookup failed", "id", m.ID, "error", err)
		return nil
	}

	myTokens := tokenSet(node.Concepts)
	var edges []types.GraphEdge
	for i := range candidates {
		c := &candidates[i]
		if c.ID == node.ID {
			continue
		}

		sharedCategory := 0.0
		if c.Category == m.Category {
			sharedCategory = 1.0
		}
		overlap := overlapRatio(myTokens, tokenSet(c.Concepts))
		proximity := temporalProximity(m.CreatedAt, c.CreatedAt)
		affinity := 0.5*sharedCategory + 0.3*overlap + 0.2*proximity

		if sharedCategory == 1.0 {
			edges = append(edges, types.GraphEdge{
				FromID: node.ID, ToID: c.ID, Type: types.EdgeSameCategory, Strength: affinity,
			})
		}
		switch {
		case overlap >= conceptOverlapThreshold:
			edges = append(edges, types.GraphEdge{
				FromID: node.ID, ToID: c.ID, Type: types.EdgeConceptSimilar, Strength: overlap,
			})
		case sharedCategory == 0 && affinity >= affinityThreshold:
			edges = append(edges, types.GraphEdge{
				FromID: node.ID, ToID: c.ID, Type: types.EdgeRelatedTo, Strength: affinity,
			})
		}
	}
	return edges
}

// conceptQueryText joins concept titles and keywords into the candidate
// lookup query.
func conceptQueryText(concepts []types.Concept) string {
	var parts []string
	for _, c := range concepts {
		if c.Title != "" {
			parts = append(parts, c.Title)
		}
		parts = append(parts, c.Keywords...)
	}
	return strings.Join(parts, " ")
}

func joinConceptTitles(concepts []types.Concept) string {
	titles := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if c.Title != "" {
			titles = append(titles, c.Title)
		}
	}
	return strings.Join(titles, ", ")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(tok) >= 3 {
			set[tok] = true
		}
	}
	return set
}

// overlapRatio is intersection over union of the two token sets.
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// temporalProximity decays linearly from 1 at identical timestamps to 0 at
// the window boundary.
func temporalProximity(a, b time.Time) float64 {
	delta := math.Abs(a.Sub(b).Hours())
	window := temporalWindow.Hours()
	if delta >= window {
		return 0
	}
	return 1 - delta/window
}
