package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// collection holds the records of one resource in insertion order.
type collection struct {
	mu      sync.Mutex
	records []Record
	nextID  int64
}

func (c *collection) indexOf(id int64) int {
	for i, rec := range c.records {
		if rid, ok := rec.ID(); ok && rid == id {
			return i
		}
	}
	return -1
}

func (c *collection) snapshot() []Record {
	out := make([]Record, len(c.records))
	for i, rec := range c.records {
		out[i] = rec.Clone()
	}
	return out
}

// MemoryStore is an in-memory implementation of [Store].
//
// MemoryStore keeps each resource in its own collection guarded by its own
// mutex, so writes to "users" never wait on writes to "roles". The set of
// collections is guarded separately and only changes on [MemoryStore.Load].
//
// Records keep insertion order. Ids are assigned as max(id)+1 when a record
// arrives without one.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// NewMemoryStore creates a new in-memory [Store] with empty collections for
// the given resource names.
//
// The store is immediately ready for use. No cleanup is required when done.
func NewMemoryStore(resources ...string) *MemoryStore {
	m := &MemoryStore{
		collections: make(map[string]*collection, len(resources)),
	}
	for _, name := range resources {
		m.collections[name] = &collection{nextID: 1}
	}
	return m
}

// Load replaces the listed collections with the records in data.
//
// Collections not mentioned in data are left untouched. Records without a
// coercible id are assigned one. Duplicate ids within one resource fail with
// [ErrConflict] and leave the store unchanged.
func (m *MemoryStore) Load(data Snapshot) error {
	loaded := make(map[string]*collection, len(data))
	for name, records := range data {
		c := &collection{nextID: 1}
		seen := make(map[int64]struct{}, len(records))
		var pending []Record

		for _, rec := range records {
			rec = rec.Clone()
			if rec == nil {
				rec = Record{}
			}
			id, ok := rec.ID()
			if !ok {
				pending = append(pending, rec)
				continue
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%s: id %d: %w", name, id, ErrConflict)
			}
			seen[id] = struct{}{}
			rec["id"] = id
			c.records = append(c.records, rec)
			if id >= c.nextID {
				c.nextID = id + 1
			}
		}

		for _, rec := range pending {
			rec["id"] = c.nextID
			c.nextID++
			c.records = append(c.records, rec)
		}
		loaded[name] = c
	}

	m.mu.Lock()
	for name, c := range loaded {
		m.collections[name] = c
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) collection(resource string) (*collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
	return c, nil
}

// Resources returns the sorted names of all collections.
func (m *MemoryStore) Resources(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns a copy of a single record.
func (m *MemoryStore) Get(_ context.Context, resource string, id int64) (Record, error) {
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", resource, id, ErrNotFound)
	}
	return c.records[i].Clone(), nil
}

// List returns copies of all records in a resource, in insertion order.
func (m *MemoryStore) List(_ context.Context, resource string) ([]Record, error) {
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot(), nil
}

// Insert appends a record to a resource.
func (m *MemoryStore) Insert(_ context.Context, resource string, rec Record) (Record, error) {
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}

	rec = rec.Clone()
	if rec == nil {
		rec = Record{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := rec.ID()
	if ok {
		if c.indexOf(id) >= 0 {
			return nil, fmt.Errorf("%s/%d: %w", resource, id, ErrConflict)
		}
	} else {
		id = c.nextID
	}
	if id >= c.nextID {
		c.nextID = id + 1
	}

	rec["id"] = id
	c.records = append(c.records, rec)
	return rec.Clone(), nil
}

// Update merges patch into an existing record. A patch "id" is ignored.
func (m *MemoryStore) Update(_ context.Context, resource string, id int64, patch Record) (Record, error) {
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", resource, id, ErrNotFound)
	}

	updated := c.records[i].Clone()
	for k, v := range patch {
		updated[k] = v
	}
	updated["id"] = id
	c.records[i] = updated
	return updated.Clone(), nil
}

// Replace swaps an existing record's body, keeping its id.
func (m *MemoryStore) Replace(_ context.Context, resource string, id int64, rec Record) (Record, error) {
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%s/%d: %w", resource, id, ErrNotFound)
	}

	replaced := rec.Clone()
	if replaced == nil {
		replaced = Record{}
	}
	replaced["id"] = id
	c.records[i] = replaced
	return replaced.Clone(), nil
}

// Remove deletes a record, reporting whether it existed.
func (m *MemoryStore) Remove(_ context.Context, resource string, id int64) (bool, error) {
	c, err := m.collection(resource)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return false, nil
	}
	c.records = append(c.records[:i], c.records[i+1:]...)
	return true, nil
}

// Snapshot returns copies of every collection.
func (m *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(Snapshot, len(m.collections))
	for name, c := range m.collections {
		c.mu.Lock()
		out[name] = c.snapshot()
		c.mu.Unlock()
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
