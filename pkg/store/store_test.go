package store

import (
	"path/filepath"
	"testing"
	"time"
)

type widget struct {
	ID        uint `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	s := testStore(t)
	if s.DB() == nil {
		t.Fatal("DB is nil")
	}

	var mode string
	if err := s.DB().Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want %q", mode, "wal")
	}
}

func TestAutoMigrate(t *testing.T) {
	s := testStore(t)
	if err := s.DB().AutoMigrate(&widget{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := s.DB().Create(&widget{Name: "a"}).Error; err != nil {
		t.Fatalf("Create: %v", err)
	}

	var count int64
	s.DB().Model(&widget{}).Count(&count)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "reopen.db")
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = s.DB().AutoMigrate(&widget{})
	s.DB().Create(&widget{Name: "kept"})
	s.Close()

	s2, err := New(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	var w widget
	if err := s2.DB().First(&w).Error; err != nil {
		t.Fatalf("First: %v", err)
	}
	if w.Name != "kept" {
		t.Errorf("Name = %q, want %q", w.Name, "kept")
	}
}
