package relational

import (
	"context"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// NewPostgresStore connects to the networked database through the shared
// process-wide pool and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int, idleTimeout time.Duration, shortCapacity int) (MemoryStore, error) {
	db, err := acquirePool(dsn, maxConns, idleTimeout)
	if err != nil {
		return nil, err
	}

	store := newSQLStore(db, postgresDialect, shortCapacity, func() error {
		return releasePool(dsn)
	})

	if err := db.PingContext(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	if err := store.migrate(ctx, postgresSchema); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
