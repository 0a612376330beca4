// Package storage implements the embedded state database. A single sqlite
// file holds every durable entity, the feature audit trail, and the
// migration registry. Writers are serialized with BEGIN IMMEDIATE; readers
// proceed concurrently under WAL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when an entity lookup by key finds nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned on unique-constraint violations.
	ErrDuplicate = errors.New("already exists")
)

// Store is the sqlite-backed state store.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// Open creates or opens the state database at path.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent readers, foreign keys enforced.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Store{db: db, log: log}
	if err := s.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only introspection in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// txn is a write transaction on a dedicated connection. We execute raw
// BEGIN IMMEDIATE / COMMIT because database/sql's BeginTx always opens
// sqlite transactions in DEFERRED mode, which lets two writers interleave
// until the first actual write.
type txn struct {
	conn      *sql.Conn
	committed bool
}

// begin starts an IMMEDIATE transaction. IMMEDIATE acquires the write lock
// up front so concurrent writers are serialized instead of failing
// mid-transaction.
func (s *Store) begin(ctx context.Context) (*txn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	return &txn{conn: conn}, nil
}

// Commit finishes the transaction.
func (t *txn) Commit(ctx context.Context) error {
	if _, err := t.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.committed = true
	return nil
}

// Close rolls back when Commit was not reached and releases the connection.
// Rollback uses a background context so cleanup happens even when the
// caller's context is already canceled.
func (t *txn) Close() {
	if !t.committed {
		_, _ = t.conn.ExecContext(context.Background(), "ROLLBACK")
	}
	t.conn.Close()
}

// marshalMetadata serializes a metadata map for storage, defaulting to {}.
func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// unmarshalMetadata deserializes a stored metadata column.
func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

// logOp emits the structured operation record required for every mutation.
func (s *Store) logOp(op, entity string, start time.Time, err error, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["operation"] = op
	fields["entity"] = entity
	fields["duration_ms"] = time.Since(start).Milliseconds()
	entry := s.log.WithFields(fields)
	if err != nil {
		entry.WithError(err).Error("store operation failed")
		return
	}
	entry.Debug("store operation")
}

// isUniqueViolation detects sqlite unique-constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
