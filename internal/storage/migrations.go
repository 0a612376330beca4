package storage

import (
	"context"
	"fmt"
	"time"
)

// migration is a schema change applied at most once, tracked by version in
// the migrations registry table.
type migration struct {
	version string
	sql     string
}

// Registered migrations, applied in order. Versions are stable identifiers;
// never renumber an applied entry.
var migrations = []migration{
	{version: "001_state_tables", sql: schemaStateTables},
	{version: "002_workflow_tables", sql: schemaWorkflowTables},
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS migrations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version TEXT NOT NULL UNIQUE,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// applyMigrations applies any unapplied migrations. Safe to call on every
// open: applied versions are skipped via the registry.
func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, registrySchema); err != nil {
		return fmt.Errorf("failed to create migrations registry: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		start := time.Now()
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO migrations (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.version, err)
		}
		s.logOp("apply_migration", "migration", start, nil, map[string]any{"version": m.version})
	}

	return nil
}

// EnsureSchema re-runs the migration chain. Open already applies it; the
// migration engine calls this as its first phase so a fresh database is
// usable even when opened elsewhere.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.applyMigrations(ctx)
}

// migrationApplied checks the registry for a version.
func (s *Store) migrationApplied(ctx context.Context, version string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query migrations registry: %w", err)
	}
	return count > 0, nil
}

// AppliedMigrations returns the registered migration versions in apply order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM migrations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}
