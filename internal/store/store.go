// Package store provides the durable relational layer: schema migrations
// across SQLite/Postgres/MySQL, dynamic ext_ tables, typed per-entity
// accessors, and the write-behind buffer that keeps hot in-memory counters
// authoritative within the process while persisting them lazily.
//
// Grounded on ODSapper-CLIAIMONITOR's internal/memory/db.go (embedded,
// sequential migrations gated on a version table) and the teacher's
// internal/database/supabase.go (one typed Go struct per table, JSON over
// the wire) — generalized here from a single SQLite file / Supabase REST
// client to a database/sql-backed, dialect-aware store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by typed getters when no row matches.
var ErrNotFound = errors.New("store: not found")

// Store wraps one database/sql connection pool plus the ext_ table
// registry and the write-behind buffer.
type Store struct {
	db      *sql.DB
	dialect Dialect

	mu        sync.RWMutex
	extTables map[string]bool

	wb *WriteBehind
}

// Open connects to dsn using the given dialect, runs pending migrations,
// and returns a ready Store. dsn is driver-specific:
//   - sqlite:   a file path (or ":memory:")
//   - postgres: a lib/pq connection string
//   - mysql:    a go-sql-driver/mysql DSN
func Open(dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{
		db:        db,
		dialect:   dialect,
		extTables: make(map[string]bool),
	}
	s.wb = NewWriteBehind(5 * time.Second)

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes the write-behind buffer synchronously and closes the pool,
// matching the §5 "process shutdown flushes write-behind synchronously"
// requirement.
func (s *Store) Close() error {
	s.wb.Close(context.Background())
	return s.db.Close()
}

// WriteBehind exposes the store's write-behind buffer to collaborators
// (Tenant Manager, Lifecycle Manager, Workforce Scheduler) that own hot
// in-memory counters.
func (s *Store) WriteBehind() *WriteBehind { return s.wb }

// DB exposes the underlying pool for typed accessor files in this package.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports which backend this store is talking to.
func (s *Store) Dialect() Dialect { return s.dialect }

// Query is the raw read escape hatch. Only SELECT-shaped usage is
// expected; callers are responsible for parameterizing sql to avoid
// injection.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Execute is the raw write escape hatch. Mutations are restricted to
// ext_-prefixed tables to isolate dynamically registered schema from the
// core tables this package owns.
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if !isExtMutation(query) {
		return nil, fmt.Errorf("store: raw mutations are restricted to ext_ tables")
	}
	return s.db.ExecContext(ctx, query, args...)
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
