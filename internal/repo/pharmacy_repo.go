// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Pharmacy
// model, the local copy of the upstream pharmacy directory.
//
// Functions:
//
//   - GetPharmacy(ctx, db, id) -> *domain.Pharmacy, error
//     Fetches a pharmacy by id, or ErrNotFound.
//
//   - ListPharmacies(ctx, db) -> []domain.Pharmacy, error
//     Returns every pharmacy ordered by id (used to build the geo index).
//
//   - UpsertPharmacy(ctx, db, p) -> error
//     Inserts or replaces the row with p.ID.
//
//   - UpdatePharmacyStatus(ctx, db, id, status) -> *domain.Pharmacy, error
//     Changes the status and returns the updated row, or ErrNotFound.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetPharmacy fetches a pharmacy by id.
func GetPharmacy(ctx context.Context, db *gorm.DB, id uint64) (*domain.Pharmacy, error) {
	var p domain.Pharmacy
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPharmacies returns all pharmacies ordered by id.
func ListPharmacies(ctx context.Context, db *gorm.DB) ([]domain.Pharmacy, error) {
	var out []domain.Pharmacy
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// UpsertPharmacy inserts p or, when p.ID exists, overwrites its directory
// fields. CreatedAt of an existing row is preserved.
func UpsertPharmacy(ctx context.Context, db *gorm.DB, p *domain.Pharmacy) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "lat", "lng", "status", "updated_at"}),
	}).Create(p).Error
}

// UpdatePharmacyStatus sets the status of pharmacy id.
func UpdatePharmacyStatus(ctx context.Context, db *gorm.DB, id uint64, status domain.PharmacyStatus) (*domain.Pharmacy, error) {
	res := db.WithContext(ctx).Model(&domain.Pharmacy{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetPharmacy(ctx, db, id)
}
