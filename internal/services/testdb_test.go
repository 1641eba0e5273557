package services

import (
	"context"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
	"github.com/tbourn/go-pharmacy-backend/internal/repo"
	"github.com/tbourn/go-pharmacy-backend/internal/store"
)

// newTestDB opens a private in-memory database with the full schema. A
// single connection keeps shared-cache SQLite from reporting table locks.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newGormRecordStore(t *testing.T) store.Store {
	return store.NewGorm(newTestDB(t))
}

// dbRepo forwards to the repo package functions.
type dbRepo struct{}

func (dbRepo) GetPrescription(ctx context.Context, db *gorm.DB, id uint64) (*domain.Prescription, error) {
	return repo.GetPrescription(ctx, db, id)
}

func (dbRepo) ReassignPrescription(ctx context.Context, db *gorm.DB, id uint64, from int64, to uint64, st domain.PrescriptionStatus) (bool, error) {
	return repo.ReassignPrescription(ctx, db, id, from, to, st)
}

func (dbRepo) CreateRerouteHistory(ctx context.Context, db *gorm.DB, rx, from, to uint64, reason, key string) (*domain.RerouteHistory, error) {
	return repo.CreateRerouteHistory(ctx, db, rx, from, to, reason, key)
}

func (dbRepo) CountRerouteHistory(ctx context.Context, db *gorm.DB, rx uint64) (int64, error) {
	return repo.CountRerouteHistory(ctx, db, rx)
}

func (dbRepo) ListRerouteHistoryPage(ctx context.Context, db *gorm.DB, rx uint64, offset, limit int) ([]domain.RerouteHistory, error) {
	return repo.ListRerouteHistoryPage(ctx, db, rx, offset, limit)
}

func (dbRepo) GetPharmacy(ctx context.Context, db *gorm.DB, id uint64) (*domain.Pharmacy, error) {
	return repo.GetPharmacy(ctx, db, id)
}

func (dbRepo) ListPharmacies(ctx context.Context, db *gorm.DB) ([]domain.Pharmacy, error) {
	return repo.ListPharmacies(ctx, db)
}

func (dbRepo) UpsertPharmacy(ctx context.Context, db *gorm.DB, p *domain.Pharmacy) error {
	return repo.UpsertPharmacy(ctx, db, p)
}

func (dbRepo) UpdatePharmacyStatus(ctx context.Context, db *gorm.DB, id uint64, st domain.PharmacyStatus) (*domain.Pharmacy, error) {
	return repo.UpdatePharmacyStatus(ctx, db, id, st)
}
