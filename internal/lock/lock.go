// Package lock provides per-key, non-blocking mutual exclusion used to keep
// at most one reroute in flight per prescription.
//
// Two Lockers are provided: Keyed (process-local) and Redis (a TTL lease
// shared by every replica, via bsm/redislock). Acquire never waits: when the
// key is held it returns ErrLocked immediately and the caller decides
// whether to reject or retry.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock: key is held")

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases per key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Keyed is an in-process Locker. Only held keys occupy memory; a key's slot
// is removed on release, so no lock arena grows without bound.
type Keyed struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewKeyed returns an empty process-local Locker.
func NewKeyed() *Keyed {
	return &Keyed{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (k *Keyed) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return nil, ErrLocked
	}
	k.held[key] = struct{}{}
	return &keyedLease{owner: k, key: key}, nil
}

// Held reports whether key is currently locked.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.held[key]
	return ok
}

type keyedLease struct {
	owner *Keyed
	key   string
	once  sync.Once
}

func (l *keyedLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
	})
	return nil
}
