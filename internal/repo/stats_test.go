package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestRerouteHistoryFingerprint(t *testing.T) {
	db := newTestDB(t, &domain.Prescription{}, &domain.RerouteHistory{})
	ctx := context.Background()

	if _, err := RerouteHistoryFingerprint(ctx, db, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown prescription: err=%v", err)
	}

	for _, rx := range []domain.Prescription{
		{ID: 1, CustomerID: "c1", AssignedPharmacyID: 10, Status: domain.PrescriptionAccepted, Version: 1},
		{ID: 2, CustomerID: "c2", AssignedPharmacyID: 10, Status: domain.PrescriptionAccepted, Version: 1},
	} {
		if err := db.Create(&rx).Error; err != nil {
			t.Fatalf("seed rx: %v", err)
		}
	}
	fresh, err := RerouteHistoryFingerprint(ctx, db, 1)
	if err != nil || fresh != (HistoryFingerprint{Version: 1, Entries: 0}) {
		t.Fatalf("fresh: %+v %v", fresh, err)
	}

	// Two reroutes of rx 1 and one of rx 2.
	for i, move := range []struct{ rx, from, to uint64 }{{1, 10, 11}, {1, 11, 12}, {2, 10, 12}} {
		rx, _ := GetPrescription(ctx, db, move.rx)
		if ok, err := ReassignPrescription(ctx, db, move.rx, rx.Version, move.to, domain.PrescriptionPending); err != nil || !ok {
			t.Fatalf("move %d: ok=%v err=%v", i, ok, err)
		}
		if _, err := CreateRerouteHistory(ctx, db, move.rx, move.from, move.to, "", fmt.Sprintf("k-%d", i)); err != nil {
			t.Fatalf("history %d: %v", i, err)
		}
	}

	got, err := RerouteHistoryFingerprint(ctx, db, 1)
	if err != nil || got != (HistoryFingerprint{Version: 3, Entries: 2}) {
		t.Fatalf("after reroutes: %+v %v", got, err)
	}
	if got == fresh {
		t.Fatalf("fingerprint did not change")
	}
}

func TestRerouteHistoryFingerprint_MissingTable(t *testing.T) {
	db := newTestDB(t, &domain.Prescription{})
	if err := db.Create(&domain.Prescription{ID: 1, CustomerID: "c", AssignedPharmacyID: 1, Status: domain.PrescriptionAccepted}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := RerouteHistoryFingerprint(context.Background(), db, 1); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a query error, got %v", err)
	}
}
