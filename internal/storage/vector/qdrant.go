// Package vector stores LLM-extracted concepts in qdrant and serves
// similarity search over them.
package vector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/types"
)

// ConceptHit is one scored concept returned by similarity search.
type ConceptHit struct {
	MemoryID          int64            `json:"memory_id"`
	Category          string           `json:"category"`
	Topic             string           `json:"topic"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	MemoryType        types.MemoryType `json:"memory_type"`
	Score             float64          `json:"score"`
	DocID             string           `json:"doc_id"`
	Source            string           `json:"source,omitempty"`
	SourceDate        string           `json:"source_date,omitempty"`
	CreatedAt         string           `json:"created_at,omitempty"`
	ExtractedConcepts []string         `json:"extracted_concepts,omitempty"`
}

// Store is the vector-store contract the pipeline depends on.
type Store interface {
	Initialize(ctx context.Context) error
	StoreConcepts(ctx context.Context, m *types.Memory, concepts []types.Concept, embeddings [][]float64) (int, error)
	SearchSimilar(ctx context.Context, embedding []float64, limit int, categories []string, minScore float64) ([]ConceptHit, error)
	ConceptsForMemory(ctx context.Context, memoryID int64) ([]ConceptHit, error)
	DeleteForMemory(ctx context.Context, memoryID int64) error
	Count(ctx context.Context) (int64, error)
	Health(ctx context.Context) types.HealthStatus
	Close() error
}

// QdrantStore implements Store against a qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	host       string
	port       int
	collection string
	vectorSize int
	logger     logging.Logger
}

// NewQdrantStore builds an unconnected store; Initialize must be called
// before use.
func NewQdrantStore(host string, port int, collection string, vectorSize int) *QdrantStore {
	return &QdrantStore{
		host:       host,
		port:       port,
		collection: collection,
		vectorSize: vectorSize,
		logger:     logging.WithComponent("vector"),
	}
}

// Initialize connects and creates the collection if it doesn't exist. Safe to
// call repeatedly.
func (qs *QdrantStore) Initialize(ctx context.Context) error {
	if qs.client == nil {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host: qs.host,
			Port: qs.port,
		})
		if err != nil {
			return fmt.Errorf("failed to create qdrant client: %w", err)
		}
		qs.client = client
	}

	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == qs.collection {
			return nil
		}
	}

	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qs.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(qs.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", qs.collection, err)
	}
	qs.logger.Info("Created qdrant collection", "collection", qs.collection, "size", qs.vectorSize)
	return nil
}

// StoreConcepts upserts one point per concept. Concepts whose description is
// empty are skipped; their embeddings slot (if any) is ignored. Returns the
// number of points written.
func (qs *QdrantStore) StoreConcepts(ctx context.Context, m *types.Memory, concepts []types.Concept, embeddings [][]float64) (int, error) {
	ts := time.Now().UTC().Unix()
	points := make([]*qdrant.PointStruct, 0, len(concepts))

	for i, c := range concepts {
		if c.Description == "" {
			continue
		}
		if i >= len(embeddings) || len(embeddings[i]) == 0 {
			qs.logger.Warn("Missing embedding for concept", "memory_id", m.ID, "index", i)
			continue
		}
		docID := fmt.Sprintf("memory_%d_concept_%d_%d", m.ID, i, ts)
		points = append(points, &qdrant.PointStruct{
			Id:      docIDToPointID(docID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: float64ToFloat32(embeddings[i])}}},
			Payload: conceptPayload(m, &c, docID, ts),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collection,
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert concepts for memory %d: %w", m.ID, err)
	}
	qs.logger.Debug("Stored concepts", "memory_id", m.ID, "count", len(points))
	return len(points), nil
}

// SearchSimilar runs cosine search and post-filters on category, so the
// category filter behaves identically whether or not payload indexes exist.
// Results come back sorted by score descending; among equal scores the
// larger memory id wins.
func (qs *QdrantStore) SearchSimilar(ctx context.Context, embedding []float64, limit int, categories []string, minScore float64) ([]ConceptHit, error) {
	if limit <= 0 {
		limit = 10
	}
	// Over-fetch when filtering so post-filtering can still fill the limit.
	fetch := limit
	if len(categories) > 0 {
		fetch = limit * 4
	}

	query := &qdrant.QueryPoints{
		CollectionName: qs.collection,
		Query:          qdrant.NewQuery(float64ToFloat32(embedding)...),
		Limit:          qdrant.PtrOf(uint64(fetch)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		query.ScoreThreshold = qdrant.PtrOf(float32(minScore))
	}

	scored, err := qs.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]ConceptHit, 0, len(scored))
	for _, p := range scored {
		hits = append(hits, payloadToHit(p.GetPayload(), float64(p.GetScore())))
	}
	return topHits(hits, categories, limit), nil
}

// topHits filters on category, orders by score descending with the larger
// memory id winning ties, and only then truncates to limit. Truncating before
// the tie-break would drop the wrong hit when equal scores straddle the cut.
func topHits(hits []ConceptHit, categories []string, limit int) []ConceptHit {
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[c] = true
	}

	filtered := make([]ConceptHit, 0, len(hits))
	for _, h := range hits {
		if len(allowed) > 0 && !allowed[h.Category] {
			continue
		}
		filtered = append(filtered, h)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].MemoryID > filtered[j].MemoryID
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// ConceptsForMemory returns every stored concept for one memory id.
func (qs *QdrantStore) ConceptsForMemory(ctx context.Context, memoryID int64) ([]ConceptHit, error) {
	points, err := qs.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: qs.collection,
		Filter:         memoryIDFilter(memoryID),
		Limit:          qdrant.PtrOf(uint32(100)),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll concepts for memory %d: %w", memoryID, err)
	}

	hits := make([]ConceptHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, payloadToHit(p.GetPayload(), 0))
	}
	return hits, nil
}

// DeleteForMemory removes every point written for the given memory id.
func (qs *QdrantStore) DeleteForMemory(ctx context.Context, memoryID int64) error {
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: memoryIDFilter(memoryID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for memory %d: %w", memoryID, err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (qs *QdrantStore) Count(ctx context.Context) (int64, error) {
	n, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qs.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int64(n), nil
}

// Health probes the collection listing.
func (qs *QdrantStore) Health(ctx context.Context) types.HealthStatus {
	if qs.client == nil {
		return types.HealthStatus{OK: false, Detail: "not initialized"}
	}
	if _, err := qs.client.ListCollections(ctx); err != nil {
		return types.HealthStatus{OK: false, Detail: err.Error()}
	}
	return types.HealthStatus{OK: true, Detail: "qdrant reachable"}
}

// Close releases the grpc connection.
func (qs *QdrantStore) Close() error {
	if qs.client == nil {
		return nil
	}
	return qs.client.Close()
}

// Helpers

// docIDToPointID derives a deterministic uuid point id from the document id,
// since qdrant only accepts uuid or integer ids. The document id itself is
// kept in the payload.
func docIDToPointID(docID string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID))
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id.String()}}
}

func conceptPayload(m *types.Memory, c *types.Concept, docID string, ts int64) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"doc_id":      stringToValue(docID),
		"memory_id":   int64ToValue(m.ID),
		"category":    stringToValue(m.Category),
		"topic":       stringToValue(m.Topic),
		"title":       stringToValue(c.Title),
		"description": stringToValue(c.Description),
		"memory_type": stringToValue(string(c.MemoryType)),
		"confidence":  doubleToValue(c.Confidence),
		"timestamp":   int64ToValue(ts),
		"source":      stringToValue("semantic_analysis"),
		"source_date": stringToValue(m.Date),
		"created_at":  stringToValue(m.CreatedAt.UTC().Format(time.RFC3339)),
	}
	if c.Mood != "" {
		payload["mood"] = stringToValue(c.Mood)
	}
	if len(c.Keywords) > 0 {
		payload["keywords"] = stringSliceToValue(c.Keywords)
	}
	if len(c.ExtractedConcepts) > 0 {
		payload["extracted_concepts"] = stringSliceToValue(c.ExtractedConcepts)
	}
	return payload
}

func payloadToHit(payload map[string]*qdrant.Value, score float64) ConceptHit {
	hit := ConceptHit{
		DocID:             getString(payload, "doc_id"),
		Category:          getString(payload, "category"),
		Topic:             getString(payload, "topic"),
		Title:             getString(payload, "title"),
		Description:       getString(payload, "description"),
		MemoryType:        types.MemoryType(getString(payload, "memory_type")),
		Score:             score,
		Source:            getString(payload, "source"),
		SourceDate:        getString(payload, "source_date"),
		CreatedAt:         getString(payload, "created_at"),
		ExtractedConcepts: getStringList(payload, "extracted_concepts"),
	}
	if v, ok := payload["memory_id"]; ok {
		hit.MemoryID = v.GetIntegerValue()
	}
	return hit
}

func getString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func getStringList(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.Values))
	for _, item := range list.Values {
		out = append(out, item.GetStringValue())
	}
	return out
}

func memoryIDFilter(memoryID int64) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "memory_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Integer{Integer: memoryID},
						},
					},
				},
			},
		},
	}
}

func stringToValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func int64ToValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func doubleToValue(f float64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}
}

func stringSliceToValue(slice []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(slice))
	for i, s := range slice {
		values[i] = stringToValue(s)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{
		ListValue: &qdrant.ListValue{Values: values},
	}}
}

func float64ToFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
