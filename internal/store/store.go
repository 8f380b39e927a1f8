// Package store is the idempotency ledger: a durable key/value map of
// proposal ids that have already been dispatched.
//
// Semantics are deliberately minimal: get and put only, no delete, no expiry,
// no iteration. The value is a first-seen timestamp used purely as a sentinel;
// it says nothing about dispatch status because dispatch is never retried for
// a recorded id.
package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("store closed")

// Store is the persistence API used by the pipeline.
type Store interface {
	// Seen reports whether id was ever recorded.
	Seen(ctx context.Context, id string) (bool, error)
	// MarkSeen records id. Recording an already-recorded id is a no-op.
	MarkSeen(ctx context.Context, id string) error
	Close() error
}

// Memory is an in-process Store for tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	closed bool
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]time.Time{}}
}

func (m *Memory) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.seen[id]
	return ok, nil
}

func (m *Memory) MarkSeen(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.seen[id]; !ok {
		m.seen[id] = time.Now()
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
