// Package store implements a versioned key/value record store with
// optimistic concurrency. Every accepted write bumps the record version by
// exactly one; a write that names a version other than the current one is
// rejected with a *ConflictError and leaves the record untouched.
//
// Deletion writes a tombstone. Reads treat tombstones as missing, but the
// version sequence continues, so a key that is deleted and re-created never
// hands out a version number twice.
//
// Two backends are provided: Memory (process-local, per-key locking) and
// Gorm (conditional UPDATE on the versioned_records table).
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key does not exist or is a tombstone.
var ErrNotFound = errors.New("record not found")

// ErrConflict is the sentinel matched by every *ConflictError.
var ErrConflict = errors.New("version conflict")

// ConflictError describes a rejected compare-and-swap.
type ConflictError struct {
	Key      string
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %q: expected %d, current %d", e.Key, e.Expected, e.Current)
}

// Is makes errors.Is(err, ErrConflict) true for any *ConflictError.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Record is a live value together with its version.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// Store is the versioned record store contract. Implementations must be
// safe for concurrent use and atomic per key.
type Store interface {
	// Read returns the live record for key or ErrNotFound.
	Read(ctx context.Context, key string) (Record, error)
	// Write stores value if expectedVersion matches the current version and
	// returns the new version. expectedVersion 0 creates a missing key.
	Write(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)
	// Delete tombstones key if expectedVersion matches and returns the
	// tombstone version. Missing keys yield ErrNotFound.
	Delete(ctx context.Context, key string, expectedVersion int64) (int64, error)
}

// nextVersion applies the CAS rules shared by all backends. exists/deleted
// describe the stored row (if any) and current is its version.
func nextVersion(key string, exists, deleted bool, current, expected int64) (int64, error) {
	switch {
	case !exists:
		if expected != 0 {
			return 0, &ConflictError{Key: key, Expected: expected, Current: 0}
		}
		return 1, nil
	case deleted:
		// A tombstone looks missing to readers, so accept 0 as well as the
		// tombstone version.
		if expected != 0 && expected != current {
			return 0, &ConflictError{Key: key, Expected: expected, Current: 0}
		}
		return current + 1, nil
	default:
		if expected != current {
			return 0, &ConflictError{Key: key, Expected: expected, Current: current}
		}
		return current + 1, nil
	}
}

// deleteVersion applies the CAS rules for tombstone writes.
func deleteVersion(key string, exists, deleted bool, current, expected int64) (int64, error) {
	if !exists || deleted {
		return 0, ErrNotFound
	}
	if expected != current {
		return 0, &ConflictError{Key: key, Expected: expected, Current: current}
	}
	return current + 1, nil
}
