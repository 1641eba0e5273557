// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model behind the idempotency ledger.
//
// Every state change after insert is a conditional UPDATE/DELETE guarded by
// the record's attempt counter and PENDING outcome, so a writer that lost
// its lease can never overwrite the record of the writer that took it over.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (scope, key) pair.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns the record for (scope, key), expired or not, or
// ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope, key string) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("scope = ? AND idem_key = ?", scope, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreatePendingIdempotency inserts a PENDING record at attempt 1 and
// returns ErrDuplicate on unique violation.
func CreatePendingIdempotency(ctx context.Context, db *gorm.DB, scope, key, requestHash string, now time.Time, ttl time.Duration) (*domain.Idempotency, error) {
	now = now.UTC()
	rec := &domain.Idempotency{
		ID:          uuid.NewString(),
		Scope:       scope,
		Key:         key,
		RequestHash: requestHash,
		Outcome:     domain.OutcomePending,
		Attempt:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// TakeOverIdempotency bumps the attempt of a PENDING record whose current
// attempt is fromAttempt. It reports false when another writer got there
// first or the record completed meanwhile.
func TakeOverIdempotency(ctx context.Context, db *gorm.DB, scope, key string, fromAttempt int, now time.Time, ttl time.Duration) (bool, error) {
	now = now.UTC()
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("scope = ? AND idem_key = ? AND attempt = ? AND outcome = ?", scope, key, fromAttempt, domain.OutcomePending).
		Updates(map[string]any{
			"attempt":    fromAttempt + 1,
			"updated_at": now,
			"expires_at": now.Add(ttl),
		})
	return res.RowsAffected == 1, res.Error
}

// CompleteIdempotency moves a PENDING record held at attempt to a final
// outcome. It reports false when the lease was lost.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, scope, key string, attempt int, outcome domain.Outcome, snapshot []byte, errCode, errMsg string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Idempotency{}).
		Where("scope = ? AND idem_key = ? AND attempt = ? AND outcome = ?", scope, key, attempt, domain.OutcomePending).
		Updates(map[string]any{
			"outcome":       outcome,
			"snapshot":      snapshot,
			"error_code":    errCode,
			"error_message": errMsg,
			"updated_at":    now.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// DeletePendingIdempotency removes a PENDING record held at attempt so the
// key can be retried from scratch.
func DeletePendingIdempotency(ctx context.Context, db *gorm.DB, scope, key string, attempt int) (bool, error) {
	res := db.WithContext(ctx).
		Where("scope = ? AND idem_key = ? AND attempt = ? AND outcome = ?", scope, key, attempt, domain.OutcomePending).
		Delete(&domain.Idempotency{})
	return res.RowsAffected == 1, res.Error
}

// DeleteExpiredIdempotency removes the (scope, key) record if it has
// expired at now.
func DeleteExpiredIdempotency(ctx context.Context, db *gorm.DB, scope, key string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Where("scope = ? AND idem_key = ? AND expires_at <= ?", scope, key, now.UTC()).
		Delete(&domain.Idempotency{})
	return res.RowsAffected == 1, res.Error
}

// PurgeExpiredIdempotency deletes every record expired at now and returns
// how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}

// isDuplicate detects unique violations; glebarez/sqlite often returns
// plain-text errors for them.
func isDuplicate(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
