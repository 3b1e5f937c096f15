package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tiered-mcp-memory/internal/logging"
	"tiered-mcp-memory/internal/memerr"
	"tiered-mcp-memory/internal/types"
)

// dialect captures the few places sqlite and postgres diverge.
type dialect struct {
	name            string
	bindDollar      bool // rewrite ? placeholders to $1..$n
	insertReturning bool // use RETURNING id instead of LastInsertId
}

var (
	sqliteDialect   = dialect{name: "sqlite"}
	postgresDialect = dialect{name: "postgresql", bindDollar: true, insertReturning: true}
)

// rebind rewrites ? placeholders into the dialect's native form.
func (d dialect) rebind(query string) string {
	if !d.bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlStore implements MemoryStore over database/sql for both backends.
type sqlStore struct {
	db            *sql.DB
	dialect       dialect
	shortCapacity int
	logger        logging.Logger
	closer        func() error
}

func newSQLStore(db *sql.DB, d dialect, shortCapacity int, closer func() error) *sqlStore {
	if shortCapacity < 1 {
		shortCapacity = 10
	}
	return &sqlStore{
		db:            db,
		dialect:       d,
		shortCapacity: shortCapacity,
		logger:        logging.WithComponent("relational"),
		closer:        closer,
	}
}

func (s *sqlStore) migrate(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

const memoryColumns = "id, date, category, topic, content, created_at"

func scanMemory(row interface{ Scan(...interface{}) error }) (*types.Memory, error) {
	var m types.Memory
	if err := row.Scan(&m.ID, &m.Date, &m.Category, &m.Topic, &m.Content, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func (s *sqlStore) scanMemories(rows *sql.Rows) ([]types.Memory, error) {
	defer func() { _ = rows.Close() }()
	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveMemory(ctx context.Context, category, topic, content string) (*types.Memory, error) {
	now := time.Now().UTC()
	m := &types.Memory{
		Date:      now.Format("2006-01-02"),
		Category:  category,
		Topic:     topic,
		Content:   content,
		CreatedAt: now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if s.dialect.insertReturning {
		query := s.dialect.rebind(
			"INSERT INTO memories (date, category, topic, content, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id")
		if err := s.db.QueryRowContext(ctx, query, m.Date, m.Category, m.Topic, m.Content, m.CreatedAt).Scan(&m.ID); err != nil {
			return nil, fmt.Errorf("failed to insert memory: %w", err)
		}
	} else {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO memories (date, category, topic, content, created_at) VALUES (?, ?, ?, ?, ?)",
			m.Date, m.Category, m.Topic, m.Content, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert memory: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read inserted id: %w", err)
		}
		m.ID = id
	}

	s.logger.Debug("Saved memory", "id", m.ID, "category", m.Category)
	return m, nil
}

func (s *sqlStore) GetByID(ctx context.Context, id int64) (*types.Memory, error) {
	query := s.dialect.rebind("SELECT " + memoryColumns + " FROM memories WHERE id = ?")
	m, err := scanMemory(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory %d: %w", id, err)
	}
	return m, nil
}

func (s *sqlStore) Update(ctx context.Context, id int64, upd MemoryUpdate) (bool, error) {
	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if upd.Topic != nil {
		sets = append(sets, "topic = ?")
		args = append(args, *upd.Topic)
	}
	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, *upd.Category)
	}
	if len(sets) == 0 {
		// Nothing to change; report whether the row exists.
		m, err := s.GetByID(ctx, id)
		return m != nil, err
	}
	args = append(args, id)

	query := s.dialect.rebind("UPDATE memories SET " + strings.Join(sets, ", ") + " WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update memory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) Move(ctx context.Context, id int64, newCategory string) (bool, error) {
	if strings.TrimSpace(newCategory) == "" {
		return false, fmt.Errorf("new category cannot be empty")
	}
	return s.Update(ctx, id, MemoryUpdate{Category: &newCategory})
}

func (s *sqlStore) Delete(ctx context.Context, id int64) (bool, error) {
	query := s.dialect.rebind("DELETE FROM memories WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete memory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return n > 0, nil
}

func (s *sqlStore) SearchBasic(ctx context.Context, query string, categories []string) ([]types.Memory, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	sqlQuery := "SELECT " + memoryColumns + " FROM memories WHERE (lower(topic) LIKE ? OR lower(content) LIKE ?)"
	args := []interface{}{pattern, pattern}

	if len(categories) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(categories)), ", ")
		sqlQuery += " AND category IN (" + placeholders + ")"
		for _, c := range categories {
			args = append(args, c)
		}
	}
	sqlQuery += " ORDER BY id DESC"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(sqlQuery), args...)
	if err != nil {
		return nil, fmt.Errorf("basic search failed: %w", err)
	}
	return s.scanMemories(rows)
}

func (s *sqlStore) Recent(ctx context.Context, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	query := s.dialect.rebind("SELECT " + memoryColumns + " FROM memories ORDER BY id DESC LIMIT ?")
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent memories: %w", err)
	}
	return s.scanMemories(rows)
}

func (s *sqlStore) ByCategory(ctx context.Context, category string, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	query := s.dialect.rebind("SELECT " + memoryColumns + " FROM memories WHERE category = ? ORDER BY id DESC LIMIT ?")
	rows, err := s.db.QueryContext(ctx, query, category, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list category %s: %w", category, err)
	}
	return s.scanMemories(rows)
}

func (s *sqlStore) ListCategories(ctx context.Context) ([]types.CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM memories GROUP BY category ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.CategoryCount
	for rows.Next() {
		var cc types.CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddToShortMemory(ctx context.Context, m *types.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin short-memory transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		s.dialect.rebind("INSERT INTO memories (date, category, topic, content, created_at) VALUES (?, ?, ?, ?, ?)"),
		now.Format("2006-01-02"), types.CategoryShortTerm, m.Topic, m.Content, now)
	if err != nil {
		return fmt.Errorf("failed to insert short-memory row: %w", err)
	}

	// Prune oldest rows beyond capacity. This is the only built-in
	// operation that physically deletes on its own.
	prune := s.dialect.rebind(`DELETE FROM memories WHERE category = ? AND id NOT IN (
		SELECT id FROM memories WHERE category = ? ORDER BY id DESC LIMIT ?)`)
	if _, err := tx.ExecContext(ctx, prune, types.CategoryShortTerm, types.CategoryShortTerm, s.shortCapacity); err != nil {
		return fmt.Errorf("failed to prune short memory: %w", err)
	}

	return tx.Commit()
}

func (s *sqlStore) ListShortMemory(ctx context.Context, limit int) ([]types.Memory, error) {
	if limit <= 0 {
		limit = s.shortCapacity
	}
	return s.ByCategory(ctx, types.CategoryShortTerm, limit)
}

func (s *sqlStore) Stats(ctx context.Context) (*types.StoreStats, error) {
	stats := &types.StoreStats{
		ByCategory: make(map[string]int64),
		DBType:     s.dialect.name,
	}
	counts, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	for _, cc := range counts {
		stats.ByCategory[cc.Category] = cc.Count
		stats.Total += cc.Count
	}
	return stats, nil
}

func (s *sqlStore) Health(ctx context.Context) types.HealthStatus {
	if err := s.db.PingContext(ctx); err != nil {
		return types.HealthStatus{OK: false, Detail: err.Error()}
	}
	return types.HealthStatus{OK: true, Detail: s.dialect.name + " reachable"}
}

// Analysis job persistence.

func (s *sqlStore) SaveJob(ctx context.Context, job *types.AnalysisJob) error {
	ids, err := json.Marshal(job.MemoryIDs)
	if err != nil {
		return fmt.Errorf("failed to encode memory ids: %w", err)
	}
	query := s.dialect.rebind(`INSERT INTO analysis_jobs
		(id, status, job_type, memory_ids, progress_current, progress_total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		job.ID, string(job.Status), job.JobType, string(ids),
		job.ProgressCurrent, job.ProgressTotal, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*types.AnalysisJob, error) {
	query := s.dialect.rebind(`SELECT id, status, job_type, memory_ids, progress_current,
		progress_total, created_at, started_at, completed_at, error_message
		FROM analysis_jobs WHERE id = ?`)

	var job types.AnalysisJob
	var ids string
	var started, completed sql.NullTime
	var errMsg sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.Status, &job.JobType, &ids,
		&job.ProgressCurrent, &job.ProgressTotal, &job.CreatedAt,
		&started, &completed, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(ids), &job.MemoryIDs); err != nil {
		// Corrupt row; log and treat ids as missing.
		s.logger.Error("Corrupt memory_ids in analysis_jobs", "job_id", id, "error", memerr.Data(err))
		job.MemoryIDs = nil
	}
	if started.Valid {
		t := started.Time.UTC()
		job.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time.UTC()
		job.CompletedAt = &t
	}
	if errMsg.Valid {
		job.ErrorMessage = errMsg.String
	}
	job.CreatedAt = job.CreatedAt.UTC()
	return &job, nil
}

func (s *sqlStore) UpdateJobProgress(ctx context.Context, id string, current int) error {
	query := s.dialect.rebind("UPDATE analysis_jobs SET progress_current = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, current, id); err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func (s *sqlStore) SetJobStatus(ctx context.Context, id string, status types.JobStatus, errorMessage string) error {
	now := time.Now().UTC()
	var query string
	var args []interface{}
	switch status {
	case types.JobRunning:
		query = "UPDATE analysis_jobs SET status = ?, started_at = ? WHERE id = ?"
		args = []interface{}{string(status), now, id}
	case types.JobCompleted, types.JobFailed:
		query = "UPDATE analysis_jobs SET status = ?, completed_at = ?, error_message = ? WHERE id = ?"
		args = []interface{}{string(status), now, nullIfEmpty(errorMessage), id}
	default:
		query = "UPDATE analysis_jobs SET status = ? WHERE id = ?"
		args = []interface{}{string(status), id}
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to set job status: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) AppendAnalysisResult(ctx context.Context, jobID string, res *types.AnalysisResult) error {
	query := s.dialect.rebind(`INSERT INTO analysis_results
		(job_id, memory_id, memory_type, confidence, extracted_concepts, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		jobID, res.MemoryID, string(res.MemoryType), res.Confidence,
		res.Concepts, res.Metadata, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append analysis result: %w", err)
	}
	return nil
}

func (s *sqlStore) ResultsForJob(ctx context.Context, jobID string) ([]types.AnalysisResult, error) {
	query := s.dialect.rebind(`SELECT memory_id, memory_type, confidence, extracted_concepts, metadata, created_at
		FROM analysis_results WHERE job_id = ? ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results for job %s: %w", jobID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.AnalysisResult
	for rows.Next() {
		var r types.AnalysisResult
		if err := rows.Scan(&r.MemoryID, &r.MemoryType, &r.Confidence, &r.Concepts, &r.Metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return s.db.Close()
}
