/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All error kinds in one place. Every failure is local to the operation
  that hit it; none is fatal to the process.

ERROR CATEGORIES:
  1. Persistence - storage unavailable or unwritable
  2. Malformed   - durable bytes or a restore payload that do not decode
  3. Balance     - party spend with nothing to spend
  4. Auth        - caller is not a GM

  Per-member shortfalls inside Spend are NOT errors. They are reported as
  SpendOutcome values next to the successes.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      // tell the caller the party pool is empty
  }

SEE ALSO:
  - ledger.go: Produces balance errors
  - auth.go:   Produces auth errors
  - store/file, store/sqlite: Produce persistence and malformed errors
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPersistence is returned when the durable store cannot be read or written.
	ErrPersistence = errors.New("persistence failure")

	// ErrMalformedDocument is returned when stored or uploaded bytes are not
	// a valid ledger document.
	ErrMalformedDocument = errors.New("malformed ledger document")

	// ErrInsufficientBalance is returned when a party spend finds no coins.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnauthorized is returned when a caller may not mutate the ledger.
	ErrUnauthorized = errors.New("not authorized")

	// ErrNoDocument is returned by Export when nothing was ever committed.
	ErrNoDocument = errors.New("no ledger document")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PersistenceError wraps an I/O failure with the operation and location.
type PersistenceError struct {
	Op   string // "load", "commit", "export"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// MalformedDocumentError records where undecodable bytes came from.
type MalformedDocumentError struct {
	Source string // file path, "sqlite", "restore"
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed ledger document from %s: %v", e.Source, e.Err)
}

func (e *MalformedDocumentError) Unwrap() []error {
	return []error{ErrMalformedDocument, e.Err}
}

// InsufficientBalanceError reports the party balance that was too low.
type InsufficientBalanceError struct {
	Scope     Scope
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in %s: party has %d", e.Scope, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// UnauthorizedError names the rejected caller.
type UnauthorizedError struct {
	CallerID string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("caller %q is not authorized", e.CallerID)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input or state
// the caller can act on, rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnauthorized)
}

// IsPersistence returns true if storage failed.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}
