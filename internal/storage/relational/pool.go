package relational

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"tiered-mcp-memory/internal/logging"
)

// sharedPool is a reference-counted *sql.DB shared by every store opened
// against the same DSN in this process. The underlying pool is closed only
// when the last reference is released.
type sharedPool struct {
	db       *sql.DB
	refcount int
}

var (
	poolMu sync.Mutex
	pools  = make(map[string]*sharedPool)
)

// acquirePool returns the shared pool for dsn, opening it on first use.
func acquirePool(dsn string, maxConns int, idleTimeout time.Duration) (*sql.DB, error) {
	poolMu.Lock()
	defer poolMu.Unlock()

	if p, ok := pools[dsn]; ok {
		p.refcount++
		return p.db, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxIdleTime(idleTimeout)

	pools[dsn] = &sharedPool{db: db, refcount: 1}
	logging.WithComponent("relational").Debug("Opened shared postgres pool", "max_conns", maxConns)
	return db, nil
}

// releasePool drops one reference; the pool closes at zero.
func releasePool(dsn string) error {
	poolMu.Lock()
	defer poolMu.Unlock()

	p, ok := pools[dsn]
	if !ok {
		return nil
	}
	p.refcount--
	if p.refcount > 0 {
		return nil
	}
	delete(pools, dsn)
	logging.WithComponent("relational").Debug("Closed shared postgres pool")
	return p.db.Close()
}
