/*
Package backup copies the durable ledger document to backup locations.

PURPOSE:
  The ledger keeps only current balances. Backups are the operator's way
  back from a bad restore or a corrupt store. A backup is always the
  exported document byte for byte, so it restores unchanged.

SINKS:
  - DirSink: files in a local directory
  - S3Sink:  objects in an S3-compatible bucket (AWS S3, Cloudflare R2)

SCHEDULING:
  Scheduler exports on a fixed interval and writes to every sink. RunOnce
  does the same on demand.

SEE ALSO:
  - scheduler.go: Periodic job
  - ledger.Ledger.Export: Source of backup bytes
*/
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sink stores one named backup.
type Sink interface {
	Name() string
	Put(ctx context.Context, name string, data []byte) error
}

// ObjectName builds a unique backup name for the given time.
func ObjectName(at time.Time) string {
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("hero_coins_%s_%s.json", at.UTC().Format("20060102T150405Z"), id)
}

// =============================================================================
// DIRECTORY SINK
// =============================================================================

// DirSink writes backups as files under Dir.
type DirSink struct {
	Dir string
}

func NewDirSink(dir string) (*DirSink, error) {
	if dir == "" {
		return nil, errors.New("backup directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

func (d *DirSink) Name() string { return "dir:" + d.Dir }

// Put writes to a temporary file and renames it, so a half-written backup
// never carries a final name.
func (d *DirSink) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	final := filepath.Join(d.Dir, name)
	tmp := final + ".partial"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write backup %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename backup %s: %w", name, err)
	}
	return nil
}
