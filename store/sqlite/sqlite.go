/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Keeps the ledger document in a SQLite database for deployments that
  prefer a database file over a bare JSON file. The document is stored
  whole, as the same JSON bytes the file engine writes, so backups taken
  from either engine restore into the other.

KEY TABLES:
  ledger_document: exactly one row (id = 1) holding the encoded document
                   and the time it was committed

ATOMIC COMMIT:
  Commit upserts the row inside a SQL transaction. SQLite's journal gives
  the all-or-nothing guarantee: a crash mid-commit rolls back to the
  previous row.

WAL MODE:
  Opened with WAL so a Summarize can read while a commit is in progress.

CONNECTIONS:
  The pool is limited to one connection. This keeps ":memory:" databases
  coherent (each connection would otherwise get its own empty database)
  and matches the single-writer model of the ledger.

USAGE:
  store, err := sqlite.New("./data/hero_coins.db", ledger.CorruptRecover, log)
  if err != nil {
      log.Fatal(...)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Store interface
  - store/file: Default engine
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

const source = "sqlite"

// Store implements ledger.Store using SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	policy ledger.CorruptPolicy
	log    *zap.Logger
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string, policy ledger.CorruptPolicy, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, policy: policy, log: log}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- The single ledger document. The CHECK pins the table to one row.
	CREATE TABLE IF NOT EXISTS ledger_document (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) Load(ctx context.Context) (ledger.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, _, err := s.read(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.NewDocument(), nil
	}
	if err != nil {
		return ledger.Document{}, &ledger.PersistenceError{Op: "load", Path: source, Err: err}
	}
	return ledger.DecodeStored(body, source, s.policy, s.log)
}

func (s *Store) Commit(ctx context.Context, doc ledger.Document) error {
	data, err := ledger.Encode(doc)
	if err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: source, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: source, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO ledger_document (id, body, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`
	if _, err := sqlTx.ExecContext(ctx, query, string(data), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: source, Err: err}
	}
	if err := sqlTx.Commit(); err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: source, Err: err}
	}
	return nil
}

func (s *Store) Export(ctx context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, _, err := s.read(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNoDocument
	}
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "export", Path: source, Err: err}
	}
	return body, nil
}

func (s *Store) UpdatedAt(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, updatedAt, err := s.read(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &ledger.PersistenceError{Op: "stat", Path: source, Err: err}
	}
	return updatedAt, nil
}

// putRaw stores body without validation. Tests use it to plant corrupt
// or legacy documents.
func (s *Store) putRaw(ctx context.Context, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_document (id, body, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, body, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) read(ctx context.Context) ([]byte, time.Time, error) {
	var body, updatedAt string
	err := s.db.QueryRowContext(ctx, `SELECT body, updated_at FROM ledger_document WHERE id = 1`).
		Scan(&body, &updatedAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return []byte(body), t, nil
}
