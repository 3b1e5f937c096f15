// Package relational provides the curated-memory store behind two
// interchangeable backends: an embedded sqlite file and networked postgres.
// Both satisfy MemoryStore with identical observable semantics.
package relational

import (
	"context"

	"tiered-mcp-memory/internal/types"
)

// MemoryUpdate is a partial update; nil fields are left unchanged.
type MemoryUpdate struct {
	Topic    *string
	Content  *string
	Category *string
}

// MemoryStore is the contract both relational backends implement.
//
// Semantic errors (missing id) are reported through nil/false returns, not
// errors; errors mean the store itself misbehaved and are retryable by the
// caller when transient.
type MemoryStore interface {
	// SaveMemory appends a new row; the id is assigned atomically.
	SaveMemory(ctx context.Context, category, topic, content string) (*types.Memory, error)

	// GetByID returns the memory or nil when absent.
	GetByID(ctx context.Context, id int64) (*types.Memory, error)

	// Update applies a partial update; returns false when id is absent.
	Update(ctx context.Context, id int64, upd MemoryUpdate) (bool, error)

	// Move re-categorizes a memory; rejected when newCategory is empty.
	Move(ctx context.Context, id int64, newCategory string) (bool, error)

	// Delete physically removes a row; used only by the pipeline during
	// routing discard. Returns false when id is absent.
	Delete(ctx context.Context, id int64) (bool, error)

	// SearchBasic is a case-insensitive substring match over topic and
	// content, optionally intersected with categories.
	SearchBasic(ctx context.Context, query string, categories []string) ([]types.Memory, error)

	Recent(ctx context.Context, limit int) ([]types.Memory, error)
	ByCategory(ctx context.Context, category string, limit int) ([]types.Memory, error)
	ListCategories(ctx context.Context) ([]types.CategoryCount, error)

	// AddToShortMemory copies m into the bounded short_memory category,
	// pruning the oldest rows beyond the configured capacity.
	AddToShortMemory(ctx context.Context, m *types.Memory) error
	ListShortMemory(ctx context.Context, limit int) ([]types.Memory, error)

	Stats(ctx context.Context) (*types.StoreStats, error)
	Health(ctx context.Context) types.HealthStatus

	// Analysis job persistence backing the job manager.
	SaveJob(ctx context.Context, job *types.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*types.AnalysisJob, error)
	UpdateJobProgress(ctx context.Context, id string, current int) error
	SetJobStatus(ctx context.Context, id string, status types.JobStatus, errorMessage string) error
	AppendAnalysisResult(ctx context.Context, jobID string, res *types.AnalysisResult) error
	ResultsForJob(ctx context.Context, jobID string) ([]types.AnalysisResult, error)

	Close() error
}
