// Package ledger implements the idempotency ledger: an exactly-once guard
// for mutations retried over an unreliable network.
//
// A caller opens an entry with Begin(scope, key, requestHash). The insert
// races on the unique (scope, key) index, so exactly one caller acquires a
// PENDING lease; everyone else reads the winner's record and is told to
// replay it, wait, or stop reusing the key. The lease holder finishes with
// Commit (inside the caller's own transaction), Fail or Release.
//
// Records expire after Retention. An expired record is deleted on the next
// Begin for its key, and Purge removes expired records in bulk. A PENDING
// record untouched for PendingTimeout is treated as abandoned and may be
// taken over by a retry carrying the same request hash.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
)

// ErrLeaseLost is returned when the PENDING lease was taken over or the
// record completed by someone else before this holder finished.
var ErrLeaseLost = errors.New("ledger: idempotency lease lost")

// Kind classifies the result of Begin.
type Kind int

const (
	// Acquired: the caller holds the PENDING lease and must execute.
	Acquired Kind = iota + 1
	// AlreadyPending: the same request is being executed by someone else.
	AlreadyPending
	// Replay: the request already completed; answer from Record.
	Replay
	// KeyReuse: the key was used for a different request body.
	KeyReuse
)

func (k Kind) String() string {
	switch k {
	case Acquired:
		return "acquired"
	case AlreadyPending:
		return "already_pending"
	case Replay:
		return "replay"
	case KeyReuse:
		return "key_reuse"
	}
	return "unknown"
}

// Lease identifies a held PENDING entry.
type Lease struct {
	Scope   string
	Key     string
	Attempt int
}

// Decision is the result of Begin. Record is set for every kind except
// Acquired.
type Decision struct {
	Kind   Kind
	Lease  Lease
	Record *domain.Idempotency
}

// Ledger is safe for concurrent use.
type Ledger struct {
	DB             *gorm.DB
	Retention      time.Duration
	PendingTimeout time.Duration
	// PurgeEvery runs Purge on every Nth Begin; 0 disables it.
	PurgeEvery uint64
	Now        func() time.Time

	begins atomic.Uint64
}

// New returns a Ledger with an opportunistic purge every 256 begins.
func New(db *gorm.DB, retention, pendingTimeout time.Duration) *Ledger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Ledger{
		DB:             db,
		Retention:      retention,
		PendingTimeout: pendingTimeout,
		PurgeEvery:     256,
		Now:            time.Now,
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// HashRequest returns the hex SHA-256 of a request body.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// maxBeginRounds bounds the insert/read loop when records are deleted or
// taken over between our insert and our read.
const maxBeginRounds = 4

// Begin opens or resolves the entry for (scope, key).
func (l *Ledger) Begin(ctx context.Context, scope, key, requestHash string) (Decision, error) {
	if n := l.begins.Add(1); l.PurgeEvery > 0 && n%l.PurgeEvery == 0 {
		if _, err := l.Purge(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("purge expired idempotency records")
		}
	}

	for round := 0; round < maxBeginRounds; round++ {
		now := l.now()
		_, err := repo.CreatePendingIdempotency(ctx, l.DB, scope, key, requestHash, now, l.Retention)
		if err == nil {
			return Decision{Kind: Acquired, Lease: Lease{Scope: scope, Key: key, Attempt: 1}}, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return Decision{}, fmt.Errorf("ledger begin: %w", err)
		}

		rec, err := repo.GetIdempotency(ctx, l.DB, scope, key)
		if errors.Is(err, repo.ErrNotFound) {
			continue // deleted between insert and read
		}
		if err != nil {
			return Decision{}, fmt.Errorf("ledger begin: %w", err)
		}

		if rec.Expired(now) {
			if _, err := repo.DeleteExpiredIdempotency(ctx, l.DB, scope, key, now); err != nil {
				return Decision{}, fmt.Errorf("ledger begin: %w", err)
			}
			continue
		}
		if rec.RequestHash != requestHash {
			return Decision{Kind: KeyReuse, Record: rec}, nil
		}

		switch rec.Outcome {
		case domain.OutcomeCommitted, domain.OutcomeFailed:
			return Decision{Kind: Replay, Record: rec}, nil
		}

		if l.PendingTimeout > 0 && now.Sub(rec.UpdatedAt) >= l.PendingTimeout {
			ok, err := repo.TakeOverIdempotency(ctx, l.DB, scope, key, rec.Attempt, now, l.Retention)
			if err != nil {
				return Decision{}, fmt.Errorf("ledger takeover: %w", err)
			}
			if ok {
				return Decision{Kind: Acquired, Lease: Lease{Scope: scope, Key: key, Attempt: rec.Attempt + 1}}, nil
			}
			continue
		}
		return Decision{Kind: AlreadyPending, Record: rec}, nil
	}
	return Decision{}, fmt.Errorf("ledger begin: %s/%s did not settle", scope, key)
}

// Commit records a COMMITTED outcome with the result snapshot. Pass the
// transaction that applied the mutation so both land together.
func (l *Ledger) Commit(ctx context.Context, tx *gorm.DB, lease Lease, snapshot []byte) error {
	if tx == nil {
		tx = l.DB
	}
	ok, err := repo.CompleteIdempotency(ctx, tx, lease.Scope, lease.Key, lease.Attempt, domain.OutcomeCommitted, snapshot, "", "", l.now())
	if err != nil {
		return fmt.Errorf("ledger commit: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a FAILED outcome; retries with the same key replay it.
func (l *Ledger) Fail(ctx context.Context, lease Lease, code, message string) error {
	ok, err := repo.CompleteIdempotency(ctx, l.DB, lease.Scope, lease.Key, lease.Attempt, domain.OutcomeFailed, nil, code, message, l.now())
	if err != nil {
		return fmt.Errorf("ledger fail: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// Release drops a PENDING lease without an outcome, so a retry with the
// same key executes from scratch. Releasing a lost lease is a no-op.
func (l *Ledger) Release(ctx context.Context, lease Lease) error {
	if _, err := repo.DeletePendingIdempotency(ctx, l.DB, lease.Scope, lease.Key, lease.Attempt); err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return nil
}

// Purge deletes every expired record and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredIdempotency(ctx, l.DB, l.now())
}
