package relational

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteStore opens (creating if needed) the embedded database file and
// applies the schema.
func NewSQLiteStore(ctx context.Context, path string, shortCapacity int) (MemoryStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite handles one writer at a time; keep the pool at a single
	// connection to avoid SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	store := newSQLStore(db, sqliteDialect, shortCapacity, nil)
	if err := store.migrate(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
