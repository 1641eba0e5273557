// Package domain defines the persistence models and value types for the
// pharmacy marketplace core: pharmacies, prescriptions, reroute history and
// the wallet (commission) settings. The GORM-mapped types are shared across
// the repository and service layers.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The frontend contract sends and expects JSON numbers for amounts.
	decimal.MarshalJSONWithoutQuotes = true
}

// PharmacyStatus is the operating state of a pharmacy.
type PharmacyStatus string

const (
	PharmacyActive    PharmacyStatus = "ACTIVE"
	PharmacySuspended PharmacyStatus = "SUSPENDED"
	PharmacyClosed    PharmacyStatus = "CLOSED"
)

// Valid reports whether s is a known pharmacy status.
func (s PharmacyStatus) Valid() bool {
	switch s {
	case PharmacyActive, PharmacySuspended, PharmacyClosed:
		return true
	}
	return false
}

// PrescriptionStatus is the fulfilment state of a prescription.
type PrescriptionStatus string

const (
	PrescriptionPending   PrescriptionStatus = "PENDING"
	PrescriptionAccepted  PrescriptionStatus = "ACCEPTED"
	PrescriptionPreparing PrescriptionStatus = "PREPARING"
	PrescriptionReady     PrescriptionStatus = "READY"
	PrescriptionDispensed PrescriptionStatus = "DISPENSED"
	PrescriptionCancelled PrescriptionStatus = "CANCELLED"
)

// Valid reports whether s is a known prescription status.
func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionPending, PrescriptionAccepted, PrescriptionPreparing,
		PrescriptionReady, PrescriptionDispensed, PrescriptionCancelled:
		return true
	}
	return false
}

// Reroutable reports whether a prescription in status s may be moved to
// another pharmacy. Dispensed and cancelled prescriptions are final.
func (s PrescriptionStatus) Reroutable() bool {
	switch s {
	case PrescriptionDispensed, PrescriptionCancelled:
		return false
	}
	return s.Valid()
}

// Pharmacy is a storefront that can fulfil prescriptions. Pharmacies are
// owned by an upstream directory; this service keeps a read-mostly copy.
//
// Fields:
//   - ID: externally assigned identifier (not auto-incremented here).
//   - Name: display name, normalized on write.
//   - Lat/Lng: WGS84 location in degrees.
//   - Status: ACTIVE, SUSPENDED or CLOSED.
type Pharmacy struct {
	ID        uint64         `json:"id"        gorm:"primaryKey;autoIncrement:false"`
	Name      string         `json:"name"      gorm:"type:varchar(255);not null"`
	Lat       float64        `json:"lat"       gorm:"not null"`
	Lng       float64        `json:"lng"       gorm:"not null"`
	Status    PharmacyStatus `json:"status"    gorm:"type:varchar(16);not null;index;check:status IN ('ACTIVE','SUSPENDED','CLOSED')"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TableName returns the database table name for Pharmacy.
func (Pharmacy) TableName() string { return "pharmacies" }

// Prescription is a customer prescription assigned to a pharmacy.
//
// Version is incremented on every reroute and used as a compare-and-swap
// guard so two writers can never both move the same prescription.
type Prescription struct {
	ID                 uint64             `json:"id"                 gorm:"primaryKey;autoIncrement:false"`
	CustomerID         string             `json:"customerId"         gorm:"type:varchar(64);not null;index"`
	AssignedPharmacyID uint64             `json:"assignedPharmacyId" gorm:"not null;index"`
	Status             PrescriptionStatus `json:"status"             gorm:"type:varchar(16);not null"`
	Version            int64              `json:"version"            gorm:"not null;default:1"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// TableName returns the database table name for Prescription.
func (Prescription) TableName() string { return "prescriptions" }

// RerouteHistory is an append-only audit entry written by every committed
// reroute.
type RerouteHistory struct {
	ID             string    `json:"id"             gorm:"type:char(36);primaryKey"`
	PrescriptionID uint64    `json:"prescriptionId" gorm:"not null;index:idx_reroute_history,priority:1"`
	FromPharmacyID uint64    `json:"fromPharmacyId" gorm:"not null"`
	ToPharmacyID   uint64    `json:"toPharmacyId"   gorm:"not null"`
	Reason         string    `json:"reason,omitempty" gorm:"type:varchar(500)"`
	IdempotencyKey string    `json:"-"              gorm:"type:varchar(200);not null"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"index:idx_reroute_history,priority:2"`
}

// TableName returns the database table name for RerouteHistory.
func (RerouteHistory) TableName() string { return "reroute_history" }

// VersionedRecord is the row layout of the database-backed record store.
// Deleted rows are tombstones: they keep the version sequence alive so a
// re-created key never reuses an earlier version number.
type VersionedRecord struct {
	Key       string    `gorm:"column:record_key;type:varchar(255);primaryKey"`
	Value     []byte    `gorm:"type:blob"`
	Version   int64     `gorm:"not null"`
	Deleted   bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for VersionedRecord.
func (VersionedRecord) TableName() string { return "versioned_records" }
