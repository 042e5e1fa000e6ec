package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/autosync/internal/syncerr"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added lookup index on record_indexes(store_name, index_name, value)
const currentSchemaVersion = 1

// SQLite is the durable RecordStore backed by a SQLite file.
//
// The database is opened lazily: Init (or the first CRUD call) opens it.
// Concurrent Init callers share a single open attempt. A failed open is not
// cached, so a later call may succeed once the medium becomes available.
type SQLite struct {
	path   string
	schema schema

	open singleflight.Group

	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ RecordStore = (*SQLite)(nil)

// NewSQLite returns a store set at path with the given store definitions.
// DefaultDefs are always included.
func NewSQLite(path string, defs ...Def) *SQLite {
	return &SQLite{
		path:   path,
		schema: newSchema(append(DefaultDefs(), defs...)),
	}
}

// Open creates the store set and opens it immediately.
func Open(ctx context.Context, path string, defs ...Def) (*SQLite, error) {
	s := NewSQLite(path, defs...)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database, applying pragmas and migrations.
// This function is idempotent - safe to call multiple times.
func (s *SQLite) Init(ctx context.Context) error {
	s.mu.RLock()
	ready, closed := s.db != nil, s.closed
	s.mu.RUnlock()
	if closed {
		return syncerr.StoreUnavailable(ErrClosed)
	}
	if ready {
		return nil
	}

	_, err, _ := s.open.Do("open", func() (any, error) {
		s.mu.RLock()
		ready := s.db != nil
		s.mu.RUnlock()
		if ready {
			return nil, nil
		}

		db, err := openDB(ctx, s.path)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			db.Close()
			return nil, ErrClosed
		}
		s.db = db
		return nil, nil
	})
	if err != nil {
		return syncerr.StoreUnavailable(err)
	}
	return nil
}

// Close closes the database connection. Later calls return STORE_UNAVAILABLE.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) conn(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, syncerr.StoreUnavailable(ErrClosed)
	}
	return s.db, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index used by GetByIndex lookups.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_record_indexes_lookup
		ON record_indexes(store_name, index_name, value)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(ctx context.Context, name, expected string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	var value string
	if err := db.QueryRowContext(ctx, fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
