// Package memorystore implements store.Store entirely in process
// memory, for tests and local/embedded use without a database: a
// mutex-guarded map per collection. Rather than fixed per-type maps
// (workflows/executions/nodes/edges/triggers), it keeps a single
// generic collection map, since store.Item is already
// collection-tagged.
package memorystore

import (
	"context"
	"sort"
	"sync"

	"github.com/mbflow/wfengine/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string]map[string]store.Item // collection -> id -> item
}

// New creates an empty Store.
func New() *Store {
	return &Store{items: make(map[string]map[string]store.Item)}
}

func (s *Store) bucket(collection string) map[string]store.Item {
	b, ok := s.items[collection]
	if !ok {
		b = make(map[string]store.Item)
		s.items[collection] = b
	}
	return b
}

// Exists reports whether id is present in collection.
func (s *Store) Exists(_ context.Context, collection, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[collection][id]
	return ok, nil
}

// Find returns one item by id.
func (s *Store) Find(_ context.Context, collection, id string) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[collection][id]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

// Query applies pred over collection's items in id order and returns
// one page starting at offset.
func (s *Store) Query(_ context.Context, collection string, pred store.Predicate, offset, limit int) (store.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []store.Item
	for _, item := range s.items[collection] {
		if pred == nil || pred(item) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page := matched[offset:end]
	return store.Page{
		Items:      append([]store.Item(nil), page...),
		NextOffset: end,
		HasMore:    end < len(matched),
	}, nil
}

// Create inserts or overwrites item under its own id.
func (s *Store) Create(_ context.Context, collection string, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(collection)[item.ID] = item
	return nil
}

// Update overwrites an existing item; it is an error if the id is
// absent.
func (s *Store) Update(_ context.Context, collection string, item store.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(collection)
	if _, ok := b[item.ID]; !ok {
		return store.ErrNotFound
	}
	b[item.ID] = item
	return nil
}

// Delete removes an item by id.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.items[collection]
	if _, ok := b[id]; !ok {
		return store.ErrNotFound
	}
	delete(b, id)
	return nil
}
