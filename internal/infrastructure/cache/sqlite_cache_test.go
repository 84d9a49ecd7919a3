package cache

import (
	"context"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"proofwatch/internal/infrastructure/persistence/sqlite/model"
)

func setupSQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "cache.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(&model.NotifyKV{}); err != nil {
		t.Fatalf("auto migrate notify_kv: %v", err)
	}

	return NewSQLiteCache(db)
}

func TestSQLiteCacheSetGetDelete(t *testing.T) {
	cache := setupSQLiteCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "indexer:last_block", "18000000", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	value, found, err := cache.Get(ctx, "indexer:last_block")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatalf("Get() expected found=true")
	}
	if value != "18000000" {
		t.Fatalf("Get() value = %q", value)
	}

	if err := cache.Set(ctx, "indexer:last_block", "18000120", 0); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}

	value, found, err = cache.Get(ctx, "indexer:last_block")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != "18000120" {
		t.Fatalf("Get() after update = %q, found=%v", value, found)
	}

	if err := cache.Delete(ctx, "indexer:last_block"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	_, found, err = cache.Get(ctx, "indexer:last_block")
	if err != nil {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if found {
		t.Fatal("Get() after delete expected found=false")
	}
}

func TestSQLiteCacheMissingKey(t *testing.T) {
	cache := setupSQLiteCache(t)

	_, found, err := cache.Get(context.Background(), "status:42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Fatal("Get() on an empty table must report found=false")
	}
}

func TestSQLiteCacheRejectsBlankKey(t *testing.T) {
	cache := setupSQLiteCache(t)

	if err := cache.Set(context.Background(), "  ", "v", 0); err == nil {
		t.Fatal("Set() with blank key should fail")
	}
	if _, _, err := cache.Get(context.Background(), ""); err == nil {
		t.Fatal("Get() with empty key should fail")
	}
}
