/*
store.go - Persistence interface for the ledger document

PURPOSE:
  Defines the boundary between ledger operations and durable storage.
  The deployment holds exactly one document; a Store loads it whole and
  commits it whole.

COMMIT CONTRACT:
  Commit is all-or-nothing. After a crash, Load sees either the new
  document or the previous one, never a mix.

CORRUPT STORAGE:
  What Load does with bytes that do not decode is a deployment choice,
  expressed as a CorruptPolicy:
  - CorruptRecover: log at error level, return an empty document
  - CorruptFail:    return *MalformedDocumentError until an operator
                    restores a valid document

IMPLEMENTATIONS:
  - store/file:         JSON file, temp file + rename (default)
  - store/sqlite:       single-row table, SQL transaction
  - ledger/store:       in-memory, for tests and development

SEE ALSO:
  - ledger.go: The load-mutate-commit cycle
*/
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store loads and commits the ledger document.
type Store interface {
	// Load returns the current document. A store that was never written
	// returns an empty document, not an error.
	Load(ctx context.Context) (Document, error)

	// Commit durably replaces the document.
	Commit(ctx context.Context, doc Document) error

	// Export returns the durable bytes exactly as stored. Returns
	// ErrNoDocument if nothing was ever committed.
	Export(ctx context.Context) ([]byte, error)

	// UpdatedAt returns the time of the last commit, or the zero time.
	UpdatedAt(ctx context.Context) (time.Time, error)
}

// =============================================================================
// ENCODING
// =============================================================================

// Encode renders a document in its durable form: indented UTF-8 JSON with
// a trailing newline.
func Encode(doc Document) ([]byte, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses durable bytes in the current or legacy layout. Blank
// input decodes to an empty document.
func Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return NewDocument(), nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// DecodeUpload parses a document supplied by an operator. Unlike Decode,
// blank input is an error: an upload must be a JSON object.
func DecodeUpload(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, errors.New("empty document")
	}
	return Decode(data)
}

// =============================================================================
// CORRUPT STORAGE POLICY
// =============================================================================

type CorruptPolicy string

const (
	CorruptRecover CorruptPolicy = "recover"
	CorruptFail    CorruptPolicy = "fail"
)

func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch p := CorruptPolicy(s); p {
	case CorruptRecover, CorruptFail:
		return p, nil
	case "":
		return CorruptRecover, nil
	}
	return "", fmt.Errorf("unknown corrupt storage policy %q (want %q or %q)", s, CorruptRecover, CorruptFail)
}

// DecodeStored decodes bytes read from durable storage and applies the
// corrupt storage policy when they do not decode.
func DecodeStored(data []byte, source string, policy CorruptPolicy, log *zap.Logger) (Document, error) {
	doc, err := Decode(data)
	if err == nil {
		return doc, nil
	}
	if policy == CorruptFail {
		return Document{}, &MalformedDocumentError{Source: source, Err: err}
	}
	log.Error("ledger document is corrupt, starting from an empty ledger",
		zap.String("source", source),
		zap.Int("bytes", len(data)),
		zap.Error(err))
	return NewDocument(), nil
}
