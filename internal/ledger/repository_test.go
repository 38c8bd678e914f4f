package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipcycle/clipcycle/internal/db"
)

func setupTestRepo(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database, NewRepository(database.Conn())
}

func testRecord(clipID string) *ClipRecord {
	return &ClipRecord{
		ClipID:          clipID,
		Title:           "Incredible play",
		CreatorName:     "clipper",
		BroadcasterName: "streamer",
		CategoryID:      "509658",
		CategoryName:    "Just Chatting",
		ViewCount:       1234,
		Duration:        27.5,
		SourceURL:       "https://clips.twitch.tv/" + clipID,
		LocalPath:       "/tmp/" + clipID + ".mp4",
		DownloadedAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestRepository_InsertAndGet(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()

	inserted, err := repo.Insert(ctx, testRecord("abc"))
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if !inserted {
		t.Fatal("Insert() = false, want true")
	}

	rec, err := repo.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Get() = nil")
	}
	if rec.Title != "Incredible play" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.UploadStatus != StatusPending {
		t.Errorf("UploadStatus = %q, want pending", rec.UploadStatus)
	}
	if rec.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", rec.Attempts)
	}
	if !rec.DownloadedAt.Equal(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("DownloadedAt = %v", rec.DownloadedAt)
	}
}

func TestRepository_InsertIdempotent(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Insert(ctx, testRecord("abc")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	dup := testRecord("abc")
	dup.Title = "different title"
	inserted, err := repo.Insert(ctx, dup)
	if err != nil {
		t.Fatalf("Insert() duplicate error = %v", err)
	}
	if inserted {
		t.Error("Insert() duplicate = true, want false")
	}

	rec, _ := repo.Get(ctx, "abc")
	if rec.Title != "Incredible play" {
		t.Errorf("duplicate insert overwrote row: Title = %q", rec.Title)
	}

	stats, _ := repo.Stats(ctx)
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
}

func TestRepository_GetMissing(t *testing.T) {
	_, repo := setupTestRepo(t)

	rec, err := repo.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Get() = %+v, want nil", rec)
	}
}

func TestRepository_MarkUploaded(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()

	repo.Insert(ctx, testRecord("abc"))

	at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	if err := repo.MarkUploaded(ctx, "abc", "yt123", "https://youtube.com/watch?v=yt123", at); err != nil {
		t.Fatalf("MarkUploaded() error = %v", err)
	}

	rec, _ := repo.Get(ctx, "abc")
	if rec.UploadStatus != StatusUploaded {
		t.Errorf("UploadStatus = %q, want uploaded", rec.UploadStatus)
	}
	if rec.RemoteID != "yt123" {
		t.Errorf("RemoteID = %q", rec.RemoteID)
	}
	if rec.LocalPath != "" {
		t.Errorf("LocalPath = %q, want cleared", rec.LocalPath)
	}
	if rec.UploadedAt == nil || !rec.UploadedAt.Equal(at) {
		t.Errorf("UploadedAt = %v, want %v", rec.UploadedAt, at)
	}
}

func TestRepository_ListUploadable(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	repo.Insert(ctx, testRecord("ready"))
	repo.Insert(ctx, testRecord("backed-off"))
	repo.Insert(ctx, testRecord("done"))
	repo.MarkUploaded(ctx, "done", "yt1", "u", now)

	// backed-off waits another hour.
	if err := repo.RecordTransientFailure(ctx, "backed-off", "network", now.Add(time.Hour)); err != nil {
		t.Fatalf("RecordTransientFailure() error = %v", err)
	}

	records, err := repo.ListUploadable(ctx, now)
	if err != nil {
		t.Fatalf("ListUploadable() error = %v", err)
	}
	if len(records) != 1 || records[0].ClipID != "ready" {
		t.Fatalf("ListUploadable() = %d records, want only 'ready'", len(records))
	}

	// Once the window has elapsed the clip is eligible again.
	records, _ = repo.ListUploadable(ctx, now.Add(2*time.Hour))
	if len(records) != 2 {
		t.Errorf("ListUploadable() after window = %d records, want 2", len(records))
	}
}

func TestRepository_RecordTransientFailure(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	repo.Insert(ctx, testRecord("abc"))

	repo.RecordTransientFailure(ctx, "abc", "timeout", now.Add(time.Minute))
	repo.RecordTransientFailure(ctx, "abc", "timeout again", now.Add(2*time.Minute))

	rec, _ := repo.Get(ctx, "abc")
	if rec.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", rec.Attempts)
	}
	if rec.UploadStatus != StatusPending {
		t.Errorf("UploadStatus = %q, want pending", rec.UploadStatus)
	}
	if rec.LastError != "timeout again" {
		t.Errorf("LastError = %q", rec.LastError)
	}
	if rec.NextAttemptAt == nil || !rec.NextAttemptAt.Equal(now.Add(2*time.Minute)) {
		t.Errorf("NextAttemptAt = %v", rec.NextAttemptAt)
	}
}

func TestRepository_RecordTransientFailureIgnoresTerminal(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	repo.Insert(ctx, testRecord("abc"))
	repo.MarkFailed(ctx, "abc", "quota")

	repo.RecordTransientFailure(ctx, "abc", "late write", now)

	rec, _ := repo.Get(ctx, "abc")
	if rec.UploadStatus != StatusFailed {
		t.Errorf("UploadStatus = %q, want failed", rec.UploadStatus)
	}
	if rec.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", rec.Attempts)
	}
}

func TestRepository_Stats(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	repo.Insert(ctx, testRecord("a"))
	repo.Insert(ctx, testRecord("b"))
	repo.Insert(ctx, testRecord("c"))
	repo.MarkUploaded(ctx, "a", "yt1", "u", now)
	repo.MarkFailed(ctx, "b", "broken")

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 3 || stats.Uploaded != 1 || stats.Pending != 1 || stats.Failed != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRepository_ListOrdering(t *testing.T) {
	_, repo := setupTestRepo(t)
	ctx := context.Background()

	old := testRecord("old")
	old.DownloadedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := testRecord("recent")
	recent.DownloadedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	repo.Insert(ctx, old)
	repo.Insert(ctx, recent)

	records, err := repo.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 || records[0].ClipID != "recent" {
		t.Errorf("List() order wrong: first = %s", records[0].ClipID)
	}
}
