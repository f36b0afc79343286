// Package memory provides an in-memory storage.Store for tests and
// ephemeral deployments. Snapshots are lost when the process restarts.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rhuss/majordomo/pkg/storage"
)

// Store is an in-memory snapshot store.
type Store struct {
	mu      sync.RWMutex
	records []storage.HandlerRecord
	saved   bool
	apiKeys []string
	saves   int
	saveErr error
	closed  bool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store that serves apiKeys.
func New(apiKeys ...string) *Store {
	return &Store{apiKeys: append([]string(nil), apiKeys...)}
}

// LoadHandlers returns a copy of the last saved snapshot.
func (s *Store) LoadHandlers(_ context.Context) ([]storage.HandlerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	if !s.saved {
		return nil, fmt.Errorf("handlers: %w", storage.ErrNotFound)
	}
	return append([]storage.HandlerRecord(nil), s.records...), nil
}

// SaveHandlers replaces the snapshot. If a failure was injected with
// FailSaves, the snapshot is left unchanged and the error returned.
func (s *Store) SaveHandlers(_ context.Context, records []storage.HandlerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.saveErr != nil {
		return s.saveErr
	}

	s.records = append([]storage.HandlerRecord(nil), records...)
	storage.SortRecords(s.records)
	s.saved = true
	s.saves++
	return nil
}

// LoadAPIKeys returns the keys the store was created with.
func (s *Store) LoadAPIKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	if s.apiKeys == nil {
		return nil, fmt.Errorf("api keys: %w", storage.ErrNotFound)
	}
	return append([]string(nil), s.apiKeys...), nil
}

// FailSaves makes every subsequent SaveHandlers return err. Pass nil to
// restore normal behavior.
func (s *Store) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Saves returns the number of successful snapshot writes.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// HealthCheck reports whether the store is open.
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
