// Package graph maintains the memory relationship graph in neo4j. The graph
// store is optional; when unconfigured the pipeline runs without it.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/types"
)

const (
	// DefaultDepth is the traversal depth used when the caller passes 0.
	DefaultDepth = 2
	// MaxDepth caps traversals regardless of what the caller asks for.
	MaxDepth = 4
	// MaxNeighborhood caps how many nodes a traversal may return.
	MaxNeighborhood = 50
)

// Neighbor is one node reached by traversal, with its shortest distance from
// the origin.
type Neighbor struct {
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Store is the graph-store contract the pipeline depends on.
type Store interface {
	UpsertNode(ctx context.Context, node *types.GraphNode) error
	CreateEdge(ctx context.Context, edge *types.GraphEdge) error
	Neighborhood(ctx context.Context, id string, depth int) (*types.GraphNeighborhood, error)
	RelatedIDs(ctx context.Context, id string, depth int) ([]Neighbor, error)
	FindCandidatesByContent(ctx context.Context, text string, limit int) ([]types.GraphNode, error)
	DeleteNode(ctx context.Context, id string) error
	Statistics(ctx context.Context) (*types.GraphStats, error)
	Health(ctx context.Context) types.HealthStatus
	Close(ctx context.Context) error
}

// Neo4jStore implements Store over the bolt protocol.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   logging.Logger
}

// NewNeo4jStore connects to the graph database and verifies connectivity.
func NewNeo4jStore(ctx context.Context, url, user, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j unreachable: %w", err)
	}
	return &Neo4jStore{
		driver:   driver,
		database: database,
		logger:   logging.WithComponent("graph"),
	}, nil
}

func (gs *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return gs.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: gs.database,
		AccessMode:   mode,
	})
}

// UpsertNode creates or refreshes the node mirroring one saved memory.
func (gs *Neo4jStore) UpsertNode(ctx context.Context, node *types.GraphNode) error {
	session := gs.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MERGE (n:Memory {id: $id})
			SET n.category = $category,
			    n.topic = $topic,
			    n.content_head = $content_head,
			    n.concepts = $concepts,
			    n.created_at = $created_at`,
			map[string]any{
				"id":           node.ID,
				"category":     node.Category,
				"topic":        node.Topic,
				"content_head": node.ContentHead,
				"concepts":     node.Concepts,
				"created_at":   node.CreatedAt.UTC().Format(time.RFC3339),
			})
	})
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
	}
	return nil
}

// CreateEdge creates the typed edge between two nodes. MERGE makes repeated
// calls with the same (from, to, type) a no-op apart from refreshing strength.
func (gs *Neo4jStore) CreateEdge(ctx context.Context, edge *types.GraphEdge) error {
	if !edge.Type.Valid() {
		return fmt.Errorf("unknown edge type %q", edge.Type)
	}
	session := gs.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	// Relationship types cannot be parameterized; Type is validated against
	// the closed set above before interpolation.
	query := fmt.Sprintf(`
		MATCH (a:Memory {id: $from}), (b:Memory {id: $to})
		MERGE (a)-[r:%s]->(b)
		SET r.strength = $strength`, edge.Type)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{
			"from":     edge.FromID,
			"to":       edge.ToID,
			"strength": edge.Strength,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create edge %s-[%s]->%s: %w", edge.FromID, edge.Type, edge.ToID, err)
	}
	return nil
}

func clampDepth(depth int) int {
	if depth <= 0 {
		return DefaultDepth
	}
	if depth > MaxDepth {
		return MaxDepth
	}
	return depth
}

// Neighborhood returns the nodes within depth hops of id and the edges among
// them. The origin node is included.
func (gs *Neo4jStore) Neighborhood(ctx context.Context, id string, depth int) (*types.GraphNeighborhood, error) {
	depth = clampDepth(depth)
	session := gs.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		nodeQuery := fmt.Sprintf(`
			MATCH (start:Memory {id: $id})
			OPTIONAL MATCH (start)-[*1..%d]-(n:Memory)
			WITH start, collect(DISTINCT n)[0..%d] AS neighbors
			RETURN [start] + neighbors AS nodes`, depth, MaxNeighborhood)

		res, err := tx.Run(ctx, nodeQuery, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}

		raw, _ := record.Get("nodes")
		rawNodes, _ := raw.([]any)

		hood := &types.GraphNeighborhood{}
		ids := make([]string, 0, len(rawNodes))
		seen := make(map[string]bool)
		for _, rn := range rawNodes {
			n, ok := rn.(neo4j.Node)
			if !ok {
				continue
			}
			gn := nodeFromProps(n.Props)
			if seen[gn.ID] {
				continue
			}
			seen[gn.ID] = true
			hood.Nodes = append(hood.Nodes, gn)
			ids = append(ids, gn.ID)
		}

		edgeRes, err := tx.Run(ctx, `
			MATCH (a:Memory)-[r]->(b:Memory)
			WHERE a.id IN $ids AND b.id IN $ids
			RETURN a.id AS from_id, b.id AS to_id, type(r) AS type, r.strength AS strength`,
			map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		for edgeRes.Next(ctx) {
			rec := edgeRes.Record()
			hood.Edges = append(hood.Edges, types.GraphEdge{
				FromID:   stringField(rec, "from_id"),
				ToID:     stringField(rec, "to_id"),
				Type:     types.EdgeType(stringField(rec, "type")),
				Strength: floatField(rec, "strength"),
			})
		}
		return hood, edgeRes.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("neighborhood query failed for %s: %w", id, err)
	}
	return result.(*types.GraphNeighborhood), nil
}

// RelatedIDs returns ids reachable within depth hops, each annotated with the
// shortest path length to it.
func (gs *Neo4jStore) RelatedIDs(ctx context.Context, id string, depth int) ([]Neighbor, error) {
	depth = clampDepth(depth)
	session := gs.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	query := fmt.Sprintf(`
		MATCH (start:Memory {id: $id})
		MATCH path = shortestPath((start)-[*1..%d]-(n:Memory))
		WHERE n.id <> $id
		RETURN n.id AS id, length(path) AS depth
		ORDER BY depth ASC
		LIMIT %d`, depth, MaxNeighborhood)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		var out []Neighbor
		for res.Next(ctx) {
			rec := res.Record()
			d, _ := rec.Get("depth")
			dist, _ := d.(int64)
			out = append(out, Neighbor{ID: stringField(rec, "id"), Depth: int(dist)})
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("related-ids query failed for %s: %w", id, err)
	}
	return result.([]Neighbor), nil
}

// FindCandidatesByContent returns nodes whose topic, concepts, or content
// head contain any token of text. Used by relationship discovery.
func (gs *Neo4jStore) FindCandidatesByContent(ctx context.Context, text string, limit int) ([]types.GraphNode, error) {
	tokens := contentTokens(text)
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}

	session := gs.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Memory)
			WHERE any(tok IN $tokens WHERE
				toLower(n.topic) CONTAINS tok OR
				toLower(n.concepts) CONTAINS tok OR
				toLower(n.content_head) CONTAINS tok)
			RETURN n
			LIMIT $limit`,
			map[string]any{"tokens": tokens, "limit": limit})
		if err != nil {
			return nil, err
		}
		var out []types.GraphNode
		for res.Next(ctx) {
			if v, ok := res.Record().Get("n"); ok {
				if n, ok := v.(neo4j.Node); ok {
					out = append(out, nodeFromProps(n.Props))
				}
			}
		}
		return out, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("candidate query failed: %w", err)
	}
	return result.([]types.GraphNode), nil
}

// contentTokens lower-cases and keeps tokens of three or more characters.
func contentTokens(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

// DeleteNode removes the node and every edge touching it.
func (gs *Neo4jStore) DeleteNode(ctx context.Context, id string) error {
	session := gs.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `MATCH (n:Memory {id: $id}) DETACH DELETE n`, map[string]any{"id": id})
	})
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return nil
}

// Statistics reports node, edge, and per-type edge counts.
func (gs *Neo4jStore) Statistics(ctx context.Context) (*types.GraphStats, error) {
	session := gs.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		stats := &types.GraphStats{EdgeTypeCounts: make(map[string]int64)}

		res, err := tx.Run(ctx, `MATCH (n:Memory) RETURN count(n) AS nodes`, nil)
		if err != nil {
			return nil, err
		}
		if rec, err := res.Single(ctx); err == nil {
			if v, ok := rec.Get("nodes"); ok {
				stats.TotalNodes, _ = v.(int64)
			}
		}

		res, err = tx.Run(ctx, `
			MATCH (:Memory)-[r]->(:Memory)
			RETURN type(r) AS type, count(r) AS n`, nil)
		if err != nil {
			return nil, err
		}
		for res.Next(ctx) {
			rec := res.Record()
			n, _ := rec.Get("n")
			count, _ := n.(int64)
			stats.EdgeTypeCounts[stringField(rec, "type")] = count
			stats.TotalEdges += count
		}
		return stats, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("statistics query failed: %w", err)
	}
	return result.(*types.GraphStats), nil
}

// Health verifies driver connectivity.
func (gs *Neo4jStore) Health(ctx context.Context) types.HealthStatus {
	if err := gs.driver.VerifyConnectivity(ctx); err != nil {
		return types.HealthStatus{OK: false, Detail: err.Error()}
	}
	return types.HealthStatus{OK: true, Detail: "neo4j reachable"}
}

// Close shuts down the driver.
func (gs *Neo4jStore) Close(ctx context.Context) error {
	return gs.driver.Close(ctx)
}

// Helpers

func nodeFromProps(props map[string]any) types.GraphNode {
	gn := types.GraphNode{}
	if v, ok := props["id"].(string); ok {
		gn.ID = v
	}
	if v, ok := props["category"].(string); ok {
		gn.Category = v
	}
	if v, ok := props["topic"].(string); ok {
		gn.Topic = v
	}
	if v, ok := props["content_head"].(string); ok {
		gn.ContentHead = v
	}
	if v, ok := props["concepts"].(string); ok {
		gn.Concepts = v
	}
	if v, ok := props["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			gn.CreatedAt = t
		}
	}
	return gn
}

type recordGetter interface {
	Get(key string) (any, bool)
}

func stringField(rec recordGetter, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatField(rec recordGetter, key string) float64 {
	if v, ok := rec.Get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}
