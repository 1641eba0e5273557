// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for prescriptions
// and their append-only reroute history.
//
// ReassignPrescription is the only writer of assigned_pharmacy_id. It is a
// conditional update on the prescription version: it applies only if the
// row still carries the version the caller read, so two writers racing on
// the same prescription cannot both succeed.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// GetPrescription fetches a prescription by id.
func GetPrescription(ctx context.Context, db *gorm.DB, id uint64) (*domain.Prescription, error) {
	var p domain.Prescription
	if err := db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrescription inserts p at version 1.
func CreatePrescription(ctx context.Context, db *gorm.DB, p *domain.Prescription) error {
	now := time.Now().UTC()
	if p.Version == 0 {
		p.Version = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return db.WithContext(ctx).Create(p).Error
}

// ReassignPrescription moves prescription id to pharmacyID and sets status,
// provided its version is still fromVersion. It reports whether the row
// was updated; false means the version moved on (or the row is gone).
func ReassignPrescription(ctx context.Context, db *gorm.DB, id uint64, fromVersion int64, pharmacyID uint64, status domain.PrescriptionStatus) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.Prescription{}).
		Where("id = ? AND version = ?", id, fromVersion).
		Updates(map[string]any{
			"assigned_pharmacy_id": pharmacyID,
			"status":               status,
			"version":              fromVersion + 1,
			"updated_at":           time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// CreateRerouteHistory appends a history entry.
func CreateRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID, fromID, toID uint64, reason, idemKey string) (*domain.RerouteHistory, error) {
	h := &domain.RerouteHistory{
		ID:             uuid.NewString(),
		PrescriptionID: prescriptionID,
		FromPharmacyID: fromID,
		ToPharmacyID:   toID,
		Reason:         reason,
		IdempotencyKey: idemKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(h).Error; err != nil {
		return nil, err
	}
	return h, nil
}

// CountRerouteHistory uses a raw COUNT so a missing table surfaces as an error.
func CountRerouteHistory(ctx context.Context, db *gorm.DB, prescriptionID uint64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM reroute_history WHERE prescription_id = ?", prescriptionID).
		Scan(&total).Error
	return total, err
}

// ListRerouteHistoryPage returns a page ordered (CreatedAt ASC, ID ASC).
func ListRerouteHistoryPage(ctx context.Context, db *gorm.DB, prescriptionID uint64, offset, limit int) ([]domain.RerouteHistory, error) {
	var out []domain.RerouteHistory
	err := db.WithContext(ctx).
		Where("prescription_id = ?", prescriptionID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
