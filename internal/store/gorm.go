package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// Gorm is a Store persisted in the versioned_records table. Each write runs
// in a short transaction and finishes with an UPDATE guarded by the version
// it read, so the row-level check holds even without serializable isolation.
type Gorm struct {
	DB *gorm.DB
}

// NewGorm returns a database-backed store. The versioned_records table must
// already be migrated (see repo.AutoMigrate).
func NewGorm(db *gorm.DB) *Gorm { return &Gorm{DB: db} }

// Read implements Store.
func (s *Gorm) Read(ctx context.Context, key string) (Record, error) {
	var row domain.VersionedRecord
	err := s.DB.WithContext(ctx).
		Where("record_key = ? AND deleted = ?", key, false).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return Record{Key: row.Key, Value: row.Value, Version: row.Version}, nil
}

// Write implements Store.
func (s *Gorm) Write(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error) {
	var next int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, exists, err := loadRow(tx, key)
		if err != nil {
			return err
		}
		n, err := nextVersion(key, exists, row.Deleted, row.Version, expectedVersion)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		if !exists {
			rec := &domain.VersionedRecord{Key: key, Value: value, Version: n, UpdatedAt: now}
			if err := tx.Create(rec).Error; err != nil {
				if isDuplicate(err) {
					// Created concurrently by another writer.
					return &ConflictError{Key: key, Expected: expectedVersion, Current: 1}
				}
				return err
			}
			next = n
			return nil
		}

		res := tx.Model(&domain.VersionedRecord{}).
			Where("record_key = ? AND version = ?", key, row.Version).
			Updates(map[string]any{
				"value":      value,
				"version":    n,
				"deleted":    false,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Key: key, Expected: expectedVersion, Current: row.Version + 1}
		}
		next = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Delete implements Store.
func (s *Gorm) Delete(ctx context.Context, key string, expectedVersion int64) (int64, error) {
	var next int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, exists, err := loadRow(tx, key)
		if err != nil {
			return err
		}
		n, err := deleteVersion(key, exists, row.Deleted, row.Version, expectedVersion)
		if err != nil {
			return err
		}
		res := tx.Model(&domain.VersionedRecord{}).
			Where("record_key = ? AND version = ?", key, row.Version).
			Updates(map[string]any{
				"value":      nil,
				"version":    n,
				"deleted":    true,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Key: key, Expected: expectedVersion, Current: row.Version + 1}
		}
		next = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func loadRow(tx *gorm.DB, key string) (domain.VersionedRecord, bool, error) {
	var row domain.VersionedRecord
	err := tx.Where("record_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.VersionedRecord{}, false, nil
	}
	if err != nil {
		return domain.VersionedRecord{}, false, err
	}
	return row, true, nil
}

// isDuplicate detects primary-key violations across drivers that do not map
// them to gorm.ErrDuplicatedKey (glebarez/sqlite returns plain text).
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed: unique") ||
		strings.Contains(msg, "duplicate key")
}
