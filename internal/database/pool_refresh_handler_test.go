package database

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"deepagg/internal/domain"
)

func setupPoolHistoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := SetupDB(WithDialector(sqlite.Open(dsn)), WithAutoMigrate(true))
	if err != nil {
		t.Fatalf("setup test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		DB = nil
	})
	return db
}

func TestPoolHistory_RecordAndList(t *testing.T) {
	db := setupPoolHistoryTestDB(t)
	history := NewPoolHistory(db, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		refresh := &domain.PoolRefresh{RawCount: i * 10, TestedCount: i, BestCount: i, TopScore: 20 + i, TopProxy: fmt.Sprintf("http|10.0.0.%d|8080", i)}
		if err := history.RecordRefresh(ctx, refresh); err != nil {
			t.Fatalf("RecordRefresh(%d): %v", i, err)
		}
	}

	refreshes, err := history.ListRefreshes(ctx, 2)
	if err != nil {
		t.Fatalf("ListRefreshes: %v", err)
	}
	if len(refreshes) != 2 {
		t.Fatalf("len(refreshes) = %d, want 2", len(refreshes))
	}
	if refreshes[0].RawCount != 30 || refreshes[1].RawCount != 20 {
		t.Fatalf("order = %d,%d, want newest first", refreshes[0].RawCount, refreshes[1].RawCount)
	}
}

func TestPoolHistory_PrunesOldRows(t *testing.T) {
	db := setupPoolHistoryTestDB(t)
	history := NewPoolHistory(db, 2)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := history.RecordRefresh(ctx, &domain.PoolRefresh{RawCount: i}); err != nil {
			t.Fatalf("RecordRefresh(%d): %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&domain.PoolRefresh{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows kept = %d, want 2", count)
	}

	refreshes, err := history.ListRefreshes(ctx, 0)
	if err != nil {
		t.Fatalf("ListRefreshes: %v", err)
	}
	if refreshes[0].RawCount != 5 || refreshes[1].RawCount != 4 {
		t.Fatalf("kept = %+v, want the two newest", refreshes)
	}
}

func TestDialector_RejectsUnknownDriver(t *testing.T) {
	if _, err := Dialector("mysql", "dsn"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if d, err := Dialector("postgres", "host=localhost"); err != nil || d.Name() != "postgres" {
		t.Fatalf("postgres dialector = %v/%v", d, err)
	}
	if d, err := Dialector("", "file::memory:"); err != nil || d.Name() != "sqlite" {
		t.Fatalf("default dialector = %v/%v", d, err)
	}
}

func TestSetupDB_RequiresConnection(t *testing.T) {
	if _, err := SetupDB(func(cfg *Config) { cfg.Dialector = nil }); err == nil {
		t.Fatal("expected error without dialector")
	}
}

func TestSetupDB_ReusesExistingConnection(t *testing.T) {
	existing := setupPoolHistoryTestDB(t)

	db, err := SetupDB(WithExistingDB(existing), WithAutoMigrate(false))
	if err != nil {
		t.Fatalf("SetupDB: %v", err)
	}
	if db != existing || DB != existing {
		t.Fatal("SetupDB did not reuse the existing connection")
	}
}
