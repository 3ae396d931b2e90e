package db

import (
	"path/filepath"
	"testing"
	"testing/fstest"
)

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	return n > 0
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion(Migrations)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected version 1 clean, got %d dirty=%v", version, dirty)
	}
	for _, table := range []string{"runs", "heartbeats", "schema_migrations"} {
		if !tableExists(t, db, table) {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

func TestMigrateDownThenUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(Migrations); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if tableExists(t, db, "runs") || tableExists(t, db, "heartbeats") {
		t.Fatal("Expected runs and heartbeats to be dropped")
	}
	version, _, err := db.MigrateVersion(Migrations)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("Expected version 0 after down, got %d", version)
	}

	if err := db.MigrateUp(Migrations); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if _, err := db.RecordRun(testRecord("again.csv")); err != nil {
		t.Fatalf("RecordRun after re-migrating failed: %v", err)
	}
}

func TestMigrateUp_NoChangeIsNil(t *testing.T) {
	db := newTestDB(t)
	if err := db.MigrateUp(Migrations); err != nil {
		t.Errorf("Expected nil on second MigrateUp, got %v", err)
	}
}

func TestMigrateUp_BadSQL(t *testing.T) {
	db := newTestDB(t)

	broken := fstest.MapFS{
		"000001_runs.up.sql":     &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000001_runs.down.sql":   &fstest.MapFile{Data: []byte("SELECT 1;")},
		"000002_broken.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE (;")},
		"000002_broken.down.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	if err := db.MigrateUp(broken); err == nil {
		t.Fatal("Expected error from malformed migration")
	}
	_, dirty, err := db.MigrateVersion(broken)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if !dirty {
		t.Error("Expected dirty state after failed migration")
	}
}

func TestMigrateUp_ClosedDB(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	db.Close()

	if err := db.MigrateUp(Migrations); err == nil {
		t.Error("Expected error from MigrateUp on closed DB")
	}
}
