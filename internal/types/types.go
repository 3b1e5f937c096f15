// Package types contains the core data model shared by the memory pipeline
// and its storage adapters.
package types

import (
	"fmt"
	"strings"
	"time"
)

// MemoryType is the closed taxonomy used for routing decisions. The free-form
// category supplied by callers is advisory; MemoryType is authoritative.
type MemoryType string

const (
	TypeFactual        MemoryType = "factual"
	TypeProcedural     MemoryType = "procedural"
	TypeExperience     MemoryType = "experience"
	TypeSelfReflection MemoryType = "self_reflection"
	TypeHumor          MemoryType = "humor"
	TypeCollaboration  MemoryType = "collaboration"
)

// AllMemoryTypes lists every valid memory type.
func AllMemoryTypes() []MemoryType {
	return []MemoryType{
		TypeFactual, TypeProcedural, TypeExperience,
		TypeSelfReflection, TypeHumor, TypeCollaboration,
	}
}

// Valid reports whether t is a member of the taxonomy.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeFactual, TypeProcedural, TypeExperience,
		TypeSelfReflection, TypeHumor, TypeCollaboration:
		return true
	}
	return false
}

// SignificanceGated reports whether memories of this type are kept in the
// relational store only when the analyzer deems them significant.
func (t MemoryType) SignificanceGated() bool {
	switch t {
	case TypeExperience, TypeSelfReflection, TypeHumor, TypeCollaboration:
		return true
	}
	return false
}

// Reserved category names with special semantics in the relational store.
const (
	CategoryCore      = "core_memories"
	CategoryShortTerm = "short_memory"
	CategoryForgotten = "forgotten_memories"
)

// Memory is the primary entity: one caller-submitted text record.
type Memory struct {
	ID        int64     `json:"id"`
	Date      string    `json:"date"` // calendar date, YYYY-MM-DD
	Category  string    `json:"category"`
	Topic     string    `json:"topic"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants the pipeline relies on before a save.
func (m *Memory) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("memory content must contain at least one non-whitespace character")
	}
	if m.Category == "" {
		return fmt.Errorf("memory category is required")
	}
	if m.Topic == "" {
		return fmt.Errorf("memory topic is required")
	}
	return nil
}

// ContentHead returns a prefix of the content suitable for graph node
// properties and rerank input.
func (m *Memory) ContentHead(max int) string {
	if max <= 0 || len(m.Content) <= max {
		return m.Content
	}
	return m.Content[:max]
}

// Concept is an LLM-derived summary of a memory suitable for indexing.
// Concepts with empty descriptions are dropped before any vector write.
type Concept struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	MemoryType        MemoryType `json:"memory_type"`
	Confidence        float64    `json:"confidence"`
	Mood              string     `json:"mood,omitempty"`
	Keywords          []string   `json:"keywords,omitempty"`
	ExtractedConcepts []string   `json:"extracted_concepts,omitempty"`
}

// EdgeType labels a typed relationship between two graph nodes.
type EdgeType string

const (
	EdgeRelatedTo        EdgeType = "RELATED_TO"
	EdgeSameCategory     EdgeType = "SAME_CATEGORY"
	EdgeSameTopic        EdgeType = "SAME_TOPIC"
	EdgeConceptSimilar   EdgeType = "CONCEPT_SIMILAR"
	EdgeTemporalAdjacent EdgeType = "TEMPORAL_ADJACENT"
)

// Valid reports whether e is a known edge type.
func (e EdgeType) Valid() bool {
	switch e {
	case EdgeRelatedTo, EdgeSameCategory, EdgeSameTopic, EdgeConceptSimilar, EdgeTemporalAdjacent:
		return true
	}
	return false
}

// GraphNode mirrors one saved memory inside the graph store.
type GraphNode struct {
	ID          string    `json:"id"` // string form of Memory.ID
	Category    string    `json:"category"`
	Topic       string    `json:"topic"`
	ContentHead string    `json:"content_head"`
	Concepts    string    `json:"concepts"` // comma-joined concept titles
	CreatedAt   time.Time `json:"created_at"`
}

// GraphEdge is a typed, optionally weighted connection between two nodes.
type GraphEdge struct {
	FromID   string   `json:"from_id"`
	ToID     string   `json:"to_id"`
	Type     EdgeType `json:"type"`
	Strength float64  `json:"strength,omitempty"` // 0..1
}

// GraphNeighborhood is the result of a bounded traversal around one node.
type GraphNeighborhood struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphStats summarizes the graph store contents.
type GraphStats struct {
	TotalNodes     int64            `json:"total_nodes"`
	TotalEdges     int64            `json:"total_edges"`
	EdgeTypeCounts map[string]int64 `json:"edge_type_counts"`
}

// SaveReceipt documents what a save wrote where. MemoryID is 0 when the
// memory was discarded from the relational store after vector/graph writes;
// consumers must treat 0 as "no backing row", never as a valid id.
type SaveReceipt struct {
	MemoryID             int64      `json:"memory_id"`
	MemoryType           MemoryType `json:"memory_type"`
	KeptInRelational     bool       `json:"kept_in_relational"`
	InShortMemory        bool       `json:"in_short_memory"`
	StoredInVector       bool       `json:"stored_in_vector"`
	StoredInGraph        bool       `json:"stored_in_graph"`
	RelationshipsCreated int        `json:"relationships_created"`
	SignificanceReason   string     `json:"significance_reason,omitempty"`
}

// ScoredMemory is one candidate result in a unified search, annotated with
// where it came from and how relevant each backend thought it was.
type ScoredMemory struct {
	MemoryID       int64                  `json:"memory_id"`
	Category       string                 `json:"category"`
	Topic          string                 `json:"topic"`
	Content        string                 `json:"content"`
	Description    string                 `json:"description,omitempty"` // concept text from the vector store
	RelevanceScore float64                `json:"relevance_score"`
	Sources        []string               `json:"sources"` // subset of {"relational","vector"}
	GraphEnhanced  bool                   `json:"graph_enhanced,omitempty"`
	RerankScore    float64                `json:"rerank_score,omitempty"`
	RerankDetails  map[string]float64     `json:"rerank_details,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// SearchResult is the envelope returned by the unified search operations.
type SearchResult struct {
	Success           bool           `json:"success"`
	Error             string         `json:"error,omitempty"`
	SearchStrategy    string         `json:"search_strategy"`
	RerankStrategy    string         `json:"rerank_strategy,omitempty"`
	RelationalResults []Memory       `json:"relational_results"`
	VectorResults     []ScoredMemory `json:"vector_results"`
	CombinedResults   []ScoredMemory `json:"combined_results"`
	RerankedResults   []ScoredMemory `json:"reranked_results,omitempty"`
}

// Search strategy names used in SearchResult.SearchStrategy.
const (
	StrategyHybrid         = "hybrid"
	StrategyVectorOnly     = "vector_only"
	StrategyRelationalOnly = "relational_only"
)

// JobStatus tracks the lifecycle of an analysis job. Transitions form a DAG:
// pending -> running -> (completed | failed).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AnalysisJob is one asynchronous batch analysis unit.
type AnalysisJob struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	JobType         string     `json:"job_type"`
	MemoryIDs       []int64    `json:"memory_ids"`
	ProgressCurrent int        `json:"progress_current"`
	ProgressTotal   int        `json:"progress_total"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// AnalysisResult is the per-memory output appended while a job runs.
type AnalysisResult struct {
	MemoryID   int64      `json:"memory_id"`
	MemoryType MemoryType `json:"memory_type"`
	Confidence float64    `json:"confidence"`
	Concepts   string     `json:"extracted_concepts"` // JSON-encoded []Concept
	Metadata   string     `json:"metadata"`           // JSON-encoded map
	CreatedAt  time.Time  `json:"created_at"`
}

// CategoryCount pairs a category name with how many memories it holds.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// StoreStats summarizes the relational store contents.
type StoreStats struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
	DBType     string           `json:"db_type"`
}

// HealthStatus is the result of a backend health probe.
type HealthStatus struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}
