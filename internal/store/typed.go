package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Typed is a JSON view over a Store for a single value type.
type Typed[T any] struct {
	Store Store
}

// NewTyped wraps s for values of type T.
func NewTyped[T any](s Store) Typed[T] { return Typed[T]{Store: s} }

// Get decodes the live value under key.
func (t Typed[T]) Get(ctx context.Context, key string) (T, int64, error) {
	var zero T
	rec, err := t.Store.Read(ctx, key)
	if err != nil {
		return zero, 0, err
	}
	var v T
	if err := json.Unmarshal(rec.Value, &v); err != nil {
		return zero, 0, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, rec.Version, nil
}

// Put encodes v and writes it with compare-and-swap on expectedVersion.
func (t Typed[T]) Put(ctx context.Context, key string, v T, expectedVersion int64) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %q: %w", key, err)
	}
	return t.Store.Write(ctx, key, b, expectedVersion)
}

// Delete tombstones key with compare-and-swap on expectedVersion.
func (t Typed[T]) Delete(ctx context.Context, key string, expectedVersion int64) (int64, error) {
	return t.Store.Delete(ctx, key, expectedVersion)
}
