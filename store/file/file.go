/*
Package file provides the JSON file implementation of ledger.Store.

PURPOSE:
  Keeps the ledger document in one UTF-8 JSON file. This is the default
  engine and the format operators back up and restore.

ATOMIC COMMIT:
  Commit never writes the live file in place:
    1. Encode the full document
    2. Write it to a temporary file in the same directory
    3. fsync the temporary file and close it
    4. Rename it over the live file
    5. fsync the directory so the rename itself is durable
  A crash at any step leaves either the old or the new document visible.
  Leftover temporary files are ignored by Load.

LOAD:
  - Missing file: empty document
  - Unreadable file: *ledger.PersistenceError
  - Undecodable file: handled by the configured ledger.CorruptPolicy

SEE ALSO:
  - ledger/store.go: Store interface and corrupt storage policy
  - store/sqlite: Alternative engine
*/
package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// Store implements ledger.Store on a single JSON file.
type Store struct {
	path   string
	policy ledger.CorruptPolicy
	log    *zap.Logger
}

// New returns a file store at path, creating the parent directory. The
// file itself is created on first commit.
func New(path string, policy ledger.CorruptPolicy, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &ledger.PersistenceError{Op: "open", Path: path, Err: err}
	}
	return &Store{path: path, policy: policy, log: log}, nil
}

// Path returns the live document path.
func (s *Store) Path() string { return s.path }

// Close is a no-op; the file is only open during Load and Commit.
func (s *Store) Close() error { return nil }

func (s *Store) Load(ctx context.Context) (ledger.Document, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Document{}, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.NewDocument(), nil
	}
	if err != nil {
		return ledger.Document{}, &ledger.PersistenceError{Op: "load", Path: s.path, Err: err}
	}
	return ledger.DecodeStored(data, s.path, s.policy, s.log)
}

func (s *Store) Commit(ctx context.Context, doc ledger.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := ledger.Encode(doc)
	if err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: s.path, Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) Export(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ledger.ErrNoDocument
	}
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "export", Path: s.path, Err: err}
	}
	return data, nil
}

func (s *Store) UpdatedAt(_ context.Context) (time.Time, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, &ledger.PersistenceError{Op: "stat", Path: s.path, Err: err}
	}
	return info.ModTime(), nil
}

// writeAtomic writes data to a temporary file next to path, syncs it and
// renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Best effort: make the rename durable across power loss.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
