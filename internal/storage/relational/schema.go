package relational

// Schema statements per backend. The logical schema is identical; only
// autoincrement and timestamp syntax differ.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		category TEXT NOT NULL,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		job_type TEXT NOT NULL,
		memory_ids TEXT NOT NULL,
		progress_current INTEGER NOT NULL DEFAULT 0,
		progress_total INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL REFERENCES analysis_jobs(id),
		memory_id INTEGER NOT NULL,
		memory_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		extracted_concepts TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id BIGSERIAL PRIMARY KEY,
		date TEXT NOT NULL,
		category TEXT NOT NULL,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
	`CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		job_type TEXT NOT NULL,
		memory_ids TEXT NOT NULL,
		progress_current INTEGER NOT NULL DEFAULT 0,
		progress_total INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status)`,
	`CREATE TABLE IF NOT EXISTS analysis_results (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES analysis_jobs(id),
		memory_id BIGINT NOT NULL,
		memory_type TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		extracted_concepts TEXT NOT NULL,
		metadata TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
