package store

import (
	"context"
	"sync"
)

// memEntry is one key's slot. Its mutex serializes writers for that key
// only; readers of other keys never contend with it.
type memEntry struct {
	mu      sync.Mutex
	value   []byte
	version int64
	deleted bool
	exists  bool
}

// Memory is a process-local Store. Entries live in a sync.Map so that
// lookups are lock-free and each key carries its own mutex.
type Memory struct {
	entries sync.Map // string -> *memEntry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) entry(key string) *memEntry {
	if v, ok := m.entries.Load(key); ok {
		return v.(*memEntry)
	}
	v, _ := m.entries.LoadOrStore(key, &memEntry{})
	return v.(*memEntry)
}

// Read implements Store.
func (m *Memory) Read(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	v, ok := m.entries.Load(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	e := v.(*memEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists || e.deleted {
		return Record{}, ErrNotFound
	}
	return Record{Key: key, Value: append([]byte(nil), e.value...), Version: e.version}, nil
}

// Write implements Store.
func (m *Memory) Write(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e := m.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := nextVersion(key, e.exists, e.deleted, e.version, expectedVersion)
	if err != nil {
		return 0, err
	}
	e.value = append([]byte(nil), value...)
	e.version = next
	e.deleted = false
	e.exists = true
	return next, nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, ok := m.entries.Load(key)
	if !ok {
		return 0, ErrNotFound
	}
	e := v.(*memEntry)
	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := deleteVersion(key, e.exists, e.deleted, e.version, expectedVersion)
	if err != nil {
		return 0, err
	}
	e.value = nil
	e.version = next
	e.deleted = true
	return next, nil
}
