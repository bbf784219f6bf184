// Package memory provides an in-memory document store for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/docxfer/store"
)

// Store implements store.Instance with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu        sync.RWMutex
	dbs       map[string]*Database
	connected int32
}

var _ store.Instance = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{dbs: make(map[string]*Database)}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) isConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// Databases returns the database names in lexical order.
func (s *Store) Databases(_ context.Context) ([]string, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Database returns the named database, creating it when create is true.
func (s *Store) Database(_ context.Context, name string, create bool) (store.Database, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if name == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[name]
	if !ok {
		if !create {
			return nil, store.ErrNotFound
		}
		db = newDatabase(s, name)
		s.dbs[name] = db
	}
	return db, nil
}
