package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pharmacy-backend/internal/domain"
)

func newGormStore(t *testing.T) *Gorm {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: shared-cache SQLite reports table locks instead of
	// waiting, so writers queue on the pool instead.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&domain.VersionedRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewGorm(db)
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("gorm", func(t *testing.T) { fn(t, newGormStore(t)) })
}

func TestStore_CreateReadUpdate(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.Read(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Read missing: want ErrNotFound, got %v", err)
		}

		v, err := s.Write(ctx, "k", []byte("a"), 0)
		if err != nil || v != 1 {
			t.Fatalf("create: v=%d err=%v", v, err)
		}
		v, err = s.Write(ctx, "k", []byte("b"), 1)
		if err != nil || v != 2 {
			t.Fatalf("update: v=%d err=%v", v, err)
		}

		rec, err := s.Read(ctx, "k")
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(rec.Value) != "b" || rec.Version != 2 || rec.Key != "k" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	})
}

func TestStore_StaleWriteRejectedWithoutApplying(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := int64(0); i < 3; i++ {
			if _, err := s.Write(ctx, "settings", []byte(fmt.Sprint(i)), i); err != nil {
				t.Fatalf("seed write %d: %v", i, err)
			}
		}

		_, err := s.Write(ctx, "settings", []byte("stale"), 2)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("want ErrConflict, got %v", err)
		}
		var ce *ConflictError
		if !errors.As(err, &ce) || ce.Expected != 2 || ce.Current != 3 {
			t.Fatalf("unexpected conflict detail: %+v", ce)
		}

		rec, _ := s.Read(ctx, "settings")
		if string(rec.Value) != "2" || rec.Version != 3 {
			t.Fatalf("stale write must not apply, got %+v", rec)
		}

		// Creating over an existing key with version 0 is also stale.
		if _, err := s.Write(ctx, "settings", []byte("x"), 0); !errors.Is(err, ErrConflict) {
			t.Fatalf("create over existing: want ErrConflict, got %v", err)
		}
		// Non-zero expectation on a missing key conflicts too.
		if _, err := s.Write(ctx, "missing", []byte("x"), 4); !errors.Is(err, ErrConflict) {
			t.Fatalf("update missing: want ErrConflict, got %v", err)
		}
	})
}

func TestStore_DeleteWritesTombstone(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if _, err := s.Delete(ctx, "o", 0); !errors.Is(err, ErrNotFound) {
			t.Fatalf("delete missing: want ErrNotFound, got %v", err)
		}

		if _, err := s.Write(ctx, "o", []byte("1"), 0); err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.Delete(ctx, "o", 7); !errors.Is(err, ErrConflict) {
			t.Fatalf("stale delete: want ErrConflict, got %v", err)
		}
		v, err := s.Delete(ctx, "o", 1)
		if err != nil || v != 2 {
			t.Fatalf("delete: v=%d err=%v", v, err)
		}
		if _, err := s.Read(ctx, "o"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("read tombstone: want ErrNotFound, got %v", err)
		}
		if _, err := s.Delete(ctx, "o", 2); !errors.Is(err, ErrNotFound) {
			t.Fatalf("delete tombstone: want ErrNotFound, got %v", err)
		}

		// Re-creation continues the version sequence.
		v, err = s.Write(ctx, "o", []byte("2"), 0)
		if err != nil || v != 3 {
			t.Fatalf("recreate: v=%d err=%v", v, err)
		}
	})
}

func TestStore_ConcurrentWritersExactlyOneWins(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.Write(ctx, "g", []byte("init"), 0); err != nil {
			t.Fatalf("seed: %v", err)
		}

		const writers = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		start := make(chan struct{})
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := s.Write(ctx, "g", []byte(fmt.Sprint(i)), 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if wins != 1 || conflicts != writers-1 {
			t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
		}
		rec, _ := s.Read(ctx, "g")
		if rec.Version != 2 {
			t.Fatalf("store must end at version 2, got %d", rec.Version)
		}
	})
}

func TestMemory_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory()
	if _, err := m.Write(ctx, "k", nil, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTyped_RoundTripAndDecodeError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ts := NewTyped[sample](m)

	v, err := ts.Put(ctx, "s", sample{Name: "a", Count: 2}, 0)
	if err != nil || v != 1 {
		t.Fatalf("put: v=%d err=%v", v, err)
	}
	got, ver, err := ts.Get(ctx, "s")
	if err != nil || ver != 1 || got.Name != "a" || got.Count != 2 {
		t.Fatalf("get: %+v v=%d err=%v", got, ver, err)
	}

	if _, err := m.Write(ctx, "bad", []byte("{"), 0); err != nil {
		t.Fatalf("seed bad: %v", err)
	}
	if _, _, err := ts.Get(ctx, "bad"); err == nil {
		t.Fatalf("expected decode error")
	}

	if _, err := ts.Delete(ctx, "s", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, _, err := ts.Get(ctx, "s"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}
