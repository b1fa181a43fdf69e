// Package store provides Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KalSunchaser77/hero-coins-bot/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the encoded document, so every Load decodes a fresh copy
// and no map is shared between callers. Undecodable bytes are handled by
// the store's ledger.CorruptPolicy, as in the durable engines.
type Memory struct {
	mu        sync.RWMutex
	data      []byte
	updatedAt time.Time
	policy    ledger.CorruptPolicy
	log       *zap.Logger

	// FailCommit, when set, is returned by Commit instead of writing.
	FailCommit error
}

// NewMemory returns an empty store that fails loudly on corrupt bytes.
func NewMemory() *Memory {
	return NewMemoryWithPolicy(ledger.CorruptFail, nil)
}

func NewMemoryWithPolicy(policy ledger.CorruptPolicy, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{policy: policy, log: log}
}

func (m *Memory) Load(_ context.Context) (ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return ledger.NewDocument(), nil
	}
	return ledger.DecodeStored(m.data, "memory", m.policy, m.log)
}

func (m *Memory) Commit(_ context.Context, doc ledger.Document) error {
	data, err := ledger.Encode(doc)
	if err != nil {
		return &ledger.PersistenceError{Op: "commit", Path: "memory", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCommit != nil {
		return &ledger.PersistenceError{Op: "commit", Path: "memory", Err: m.FailCommit}
	}
	m.data = data
	m.updatedAt = time.Now()
	return nil
}

func (m *Memory) Export(_ context.Context) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ledger.ErrNoDocument
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *Memory) UpdatedAt(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt, nil
}

// SetRaw replaces the stored bytes without validation. Used to simulate a
// corrupt or legacy document.
func (m *Memory) SetRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
}
