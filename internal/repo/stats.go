package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

// HistoryFingerprint identifies the current state of a prescription's
// reroute history for conditional GETs. A reroute bumps the prescription
// version and appends one history row in the same transaction, so the pair
// changes whenever the history does. It returns ErrNotFound for an unknown
// prescription.
type HistoryFingerprint struct {
	Version int64
	Entries int64
}

// RerouteHistoryFingerprint reads the fingerprint in one statement.
func RerouteHistoryFingerprint(ctx context.Context, db *gorm.DB, prescriptionID uint64) (HistoryFingerprint, error) {
	var fp HistoryFingerprint
	entries := db.Model(&domain.RerouteHistory{}).
		Select("COUNT(*)").
		Where("reroute_history.prescription_id = prescriptions.id")

	res := db.WithContext(ctx).Model(&domain.Prescription{}).
		Select("prescriptions.version AS version, (?) AS entries", entries).
		Where("prescriptions.id = ?", prescriptionID).
		Limit(1).
		Scan(&fp)
	if res.Error != nil {
		return HistoryFingerprint{}, res.Error
	}
	if res.RowsAffected == 0 {
		return HistoryFingerprint{}, ErrNotFound
	}
	return fp, nil
}
