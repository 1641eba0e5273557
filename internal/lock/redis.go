package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is a Locker backed by a Redis lease. The TTL bounds how long a
// crashed holder can block a key; it must exceed the longest reroute
// transaction.
type Redis struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps rdb. prefix namespaces lock keys (e.g. "lock:reroute").
func NewRedis(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: redislock.New(rdb), prefix: prefix, ttl: ttl}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	l, err := r.client.Obtain(ctx, fmt.Sprintf("%s:%s", r.prefix, key), r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain redis lock: %w", err)
	}
	return &redisLease{lock: l}, nil
}

type redisLease struct {
	lock *redislock.Lock
	once sync.Once
	err  error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		err := l.lock.Release(ctx)
		// An expired lease is already free.
		if err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.err = err
		}
	})
	return l.err
}
