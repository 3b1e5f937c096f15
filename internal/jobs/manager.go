// Package jobs runs asynchronous batch-analysis jobs over saved memories.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tiered-mcp-memory/internal/analysis"
	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/types"
)

const jobTypeBatchAnalysis = "batch_analysis"

// Store is the slice of the relational store the manager needs.
type Store interface {
	GetByID(ctx context.Context, id int64) (*types.Memory, error)
	SaveJob(ctx context.Context, job *types.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*types.AnalysisJob, error)
	UpdateJobProgress(ctx context.Context, id string, current int) error
	SetJobStatus(ctx context.Context, id string, status types.JobStatus, errorMessage string) error
	AppendAnalysisResult(ctx context.Context, jobID string, res *types.AnalysisResult) error
	ResultsForJob(ctx context.Context, jobID string) ([]types.AnalysisResult, error)
}

// Manager queues and executes analysis jobs. A single worker processes jobs
// serially so LLM calls never contend for rate limit.
type Manager struct {
	store    Store
	analyzer analysis.Analyzer
	logger   logging.Logger

	queue chan string

	mu        sync.Mutex
	cancelled map[string]bool

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewManager builds the manager and starts its worker.
func NewManager(store Store, analyzer analysis.Analyzer) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		analyzer:  analyzer,
		logger:    logging.WithComponent("jobs"),
		queue:     make(chan string, 100),
		cancelled: make(map[string]bool),
		baseCtx:   ctx,
		stop:      cancel,
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

// Submit persists a pending job and enqueues it. Returns the job id
// immediately.
func (m *Manager) Submit(ctx context.Context, memoryIDs []int64) (string, error) {
	if len(memoryIDs) == 0 {
		return "", fmt.Errorf("memory_ids cannot be empty")
	}

	job := &types.AnalysisJob{
		ID:            uuid.New().String(),
		Status:        types.JobPending,
		JobType:       jobTypeBatchAnalysis,
		MemoryIDs:     memoryIDs,
		ProgressTotal: len(memoryIDs),
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.SaveJob(ctx, job); err != nil {
		return "", err
	}

	select {
	case m.queue <- job.ID:
	default:
		_ = m.store.SetJobStatus(ctx, job.ID, types.JobFailed, "queue full")
		return "", fmt.Errorf("job queue full")
	}

	m.logger.InfoContext(ctx, "Submitted analysis job", "job_id", job.ID, "memories", len(memoryIDs))
	return job.ID, nil
}

// RunSync executes a batch analysis in the caller's context, bypassing the
// queue. Used for foreground requests.
func (m *Manager) RunSync(ctx context.Context, memoryIDs []int64) (string, []types.AnalysisResult, error) {
	id, err := m.Submit(ctx, memoryIDs)
	if err != nil {
		return "", nil, err
	}
	// Wait for the worker to finish this job.
	for {
		job, err := m.store.GetJob(ctx, id)
		if err != nil {
			return id, nil, err
		}
		if job != nil && (job.Status == types.JobCompleted || job.Status == types.JobFailed) {
			break
		}
		select {
		case <-ctx.Done():
			return id, nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	results, err := m.store.ResultsForJob(ctx, id)
	return id, results, err
}

// Cancel marks a job for cancellation. The worker honors it before the next
// item starts, never mid-item.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("unknown job %s", jobID)
	}
	if job.Status == types.JobCompleted || job.Status == types.JobFailed {
		return fmt.Errorf("job %s already finished", jobID)
	}

	m.mu.Lock()
	m.cancelled[jobID] = true
	m.mu.Unlock()
	return nil
}

// Status returns the persisted job record.
func (m *Manager) Status(ctx context.Context, jobID string) (*types.AnalysisJob, error) {
	return m.store.GetJob(ctx, jobID)
}

// Results returns the per-memory results appended so far.
func (m *Manager) Results(ctx context.Context, jobID string) ([]types.AnalysisResult, error) {
	return m.store.ResultsForJob(ctx, jobID)
}

// Close stops the worker after the current item.
func (m *Manager) Close() {
	m.stop()
	close(m.queue)
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for jobID := range m.queue {
		if m.baseCtx.Err() != nil {
			return
		}
		m.process(jobID)
	}
}

func (m *Manager) isCancelled(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled[jobID]
}

func (m *Manager) process(jobID string) {
	ctx := logging.WithTrace(m.baseCtx, "")

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load queued job", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		// A dequeued id must exist; Submit persists before enqueueing.
		m.logger.ErrorContext(ctx, "Queued job missing from store", "job_id", jobID,
			"error", fmt.Errorf("%w: dequeued job %s has no record", memerr.ErrInternal, jobID))
		return
	}
	if m.isCancelled(jobID) {
		_ = m.store.SetJobStatus(ctx, jobID, types.JobFailed, "cancelled")
		return
	}

	if err := m.store.SetJobStatus(ctx, jobID, types.JobRunning, ""); err != nil {
		m.logger.ErrorContext(ctx, "Failed to mark job running", "job_id", jobID, "error", err)
		return
	}

	for i, memoryID := range job.MemoryIDs {
		if m.isCancelled(jobID) {
			_ = m.store.SetJobStatus(ctx, jobID, types.JobFailed, "cancelled")
			return
		}

		m.analyzeOne(ctx, jobID, memoryID)

		if err := m.store.UpdateJobProgress(ctx, jobID, i+1); err != nil {
			m.logger.WarnContext(ctx, "Failed to update progress", "job_id", jobID, "error", err)
		}
	}

	if err := m.store.SetJobStatus(ctx, jobID, types.JobCompleted, ""); err != nil {
		m.logger.ErrorContext(ctx, "Failed to mark job completed", "job_id", jobID, "error", err)
	}
	m.logger.InfoContext(ctx, "Analysis job completed", "job_id", jobID, "memories", len(job.MemoryIDs))
}

// analyzeOne classifies one memory and appends its result. Failures are
// recorded in the result metadata rather than failing the job.
func (m *Manager) analyzeOne(ctx context.Context, jobID string, memoryID int64) {
	result := &types.AnalysisResult{
		MemoryID: memoryID,
		Concepts: "[]",
		Metadata: "{}",
	}

	memory, err := m.store.GetByID(ctx, memoryID)
	switch {
	case err != nil:
		result.Metadata = metadataJSON(map[string]interface{}{"error": err.Error()})
	case memory == nil:
		result.Metadata = metadataJSON(map[string]interface{}{"error": "memory not found"})
	default:
		cls, err := m.analyzer.ClassifyAndExtract(ctx, memory)
		if err != nil {
			result.Metadata = metadataJSON(map[string]interface{}{"error": err.Error()})
			break
		}
		result.MemoryType = cls.MemoryType
		result.Confidence = averageConfidence(cls.Concepts)
		if data, err := json.Marshal(cls.Concepts); err == nil {
			result.Concepts = string(data)
		}
		result.Metadata = metadataJSON(map[string]interface{}{
			"category": memory.Category,
			"topic":    memory.Topic,
		})
	}

	if err := m.store.AppendAnalysisResult(ctx, jobID, result); err != nil {
		m.logger.ErrorContext(ctx, "Failed to append analysis result",
			"job_id", jobID, "memory_id", memoryID, "error", err)
	}
}

func averageConfidence(concepts []types.Concept) float64 {
	if len(concepts) == 0 {
		return 0
	}
	var sum float64
	for _, c := range concepts {
		sum += c.Confidence
	}
	return sum / float64(len(concepts))
}

func metadataJSON(m map[string]interface{}) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
