package store

import (
	_ "embed"
	"fmt"
	"log/slog"
)

//go:embed migrations/000_bootstrap.sql
var migrationBootstrap string

//go:embed migrations/001_core.sql
var migrationCore string

//go:embed migrations/002_api_keys.sql
var migrationAPIKeys string

// migration pairs a monotonic version with its SQLite-flavored DDL source.
// New migrations are appended here; version order is the apply order.
type migration struct {
	version int
	name    string
	sqlite  string
}

var migrationTable = []migration{
	{0, "bootstrap_engine_migrations", migrationBootstrap},
	{1, "core_tables", migrationCore},
	{2, "api_keys", migrationAPIKeys},
}

// migrate runs every pending migration, in version order, one transaction
// per migration, matching the teacher's (ODSapper-CLIAIMONITOR) sequential
// schema_version gate adapted from a single SQLite file to dialect-aware
// DDL emitted via RewriteDDL.
func (s *Store) migrate() error {
	// engine_migrations itself is created by version 0 without being
	// gated on its own existence.
	if _, err := s.db.Exec(RewriteDDL(s.dialect, migrationBootstrap)); err != nil {
		return fmt.Errorf("bootstrap migration table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := s.db.Query(`SELECT version FROM engine_migrations`)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrationTable {
		if m.version == 0 || applied[m.version] {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		slog.Info("applied migration", "version", m.version, "name", m.name)
	}
	return nil
}

func (s *Store) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ddl := RewriteDDL(s.dialect, m.sqlite)
	if _, err := tx.Exec(ddl); err != nil {
		return fmt.Errorf("exec ddl: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO engine_migrations (version, name, applied_at) VALUES (`+
			s.dialect.Placeholder(1)+`, `+s.dialect.Placeholder(2)+`, `+s.dialect.Placeholder(3)+`)`,
		m.version, m.name, nowString(),
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// RegisterExtTable allows callers to register an additional table at
// runtime. Names are forcibly prefixed ext_ to isolate them from core
// tables and to gate the raw-query surface.
func (s *Store) RegisterExtTable(name string, sqliteDDL string) (string, error) {
	fullName := extTableName(name)
	ddl := RewriteDDL(s.dialect, sqliteDDL)
	if _, err := s.db.Exec(ddl); err != nil {
		return "", fmt.Errorf("register ext table %s: %w", fullName, err)
	}
	s.mu.Lock()
	s.extTables[fullName] = true
	s.mu.Unlock()
	return fullName, nil
}

func extTableName(name string) string {
	if len(name) >= 4 && name[:4] == "ext_" {
		return name
	}
	return "ext_" + name
}

// ListExtTables returns the names of all registered dynamic tables.
func (s *Store) ListExtTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.extTables))
	for name := range s.extTables {
		out = append(out, name)
	}
	return out
}
