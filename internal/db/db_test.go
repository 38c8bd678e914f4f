package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNew_CreatesTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"_migrations", "clips", "candidates", "rotation_state"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_SeedsRotationState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var cursor int
	if err := database.Conn().QueryRow("SELECT cursor FROM rotation_state WHERE id = 1").Scan(&cursor); err != nil {
		t.Fatalf("rotation_state row missing: %v", err)
	}
	if cursor != 0 {
		t.Errorf("initial cursor = %d, want 0", cursor)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	database.Close()

	// Reopening must not re-apply migrations.
	database, err = New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() on existing db error = %v", err)
	}
	defer database.Close()

	var count int
	if err := database.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if count != 3 {
		t.Errorf("migration count = %d, want 3", count)
	}
}

func TestNew_WALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var mode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %s, want wal", mode)
	}
}

func TestClearStaleBackoffLocks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	insert := `INSERT INTO clips (clip_id, title, view_count, duration, source_url, downloaded_at, upload_status, attempts, next_attempt_at)
		VALUES (?, 'x', 0, 1.0, 'http://example.com', ?, 'pending', 1, ?)`
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339)

	// One row inside the backoff cap, one absurdly far in the future.
	if _, err := database.Conn().Exec(insert, "ok", stamp, now.Add(time.Hour).Format(time.RFC3339)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := database.Conn().Exec(insert, "stale", stamp, now.Add(48*time.Hour).Format(time.RFC3339)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	database.Close()

	// Reopen; startup should clear only the stale stamp.
	database, err = New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var okStamp, staleStamp any
	if err := database.Conn().QueryRow("SELECT next_attempt_at FROM clips WHERE clip_id = 'ok'").Scan(&okStamp); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := database.Conn().QueryRow("SELECT next_attempt_at FROM clips WHERE clip_id = 'stale'").Scan(&staleStamp); err != nil {
		t.Fatalf("query: %v", err)
	}

	if okStamp == nil {
		t.Error("in-range backoff stamp was cleared")
	}
	if staleStamp != nil {
		t.Errorf("stale backoff stamp not cleared: %v", staleStamp)
	}
}
