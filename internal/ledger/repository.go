package ledger

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	Insert(ctx context.Context, rec *ClipRecord) (bool, error)
	Exists(ctx context.Context, clipID string) (bool, error)
	Get(ctx context.Context, clipID string) (*ClipRecord, error)
	List(ctx context.Context, limit, offset int) ([]*ClipRecord, error)
	ListByStatus(ctx context.Context, status string) ([]*ClipRecord, error)
	ListUploadable(ctx context.Context, now time.Time) ([]*ClipRecord, error)
	Stats(ctx context.Context) (*Stats, error)

	MarkUploaded(ctx context.Context, clipID, remoteID, remoteURL string, at time.Time) error
	MarkFailed(ctx context.Context, clipID, reason string) error
	RecordTransientFailure(ctx context.Context, clipID, reason string, nextAttempt time.Time) error

	Delete(ctx context.Context, clipID string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const clipColumns = `clip_id, title, creator_name, broadcaster_name, category_id, category_name,
	view_count, duration, source_url, local_path, downloaded_at, uploaded_at,
	remote_id, remote_url, upload_status, last_error, attempts, next_attempt_at`

// Insert adds a clip record with status pending. It reports false without
// error when a record with the same clip_id already exists; re-acquisition
// is a no-op, never a duplicate row.
func (r *SQLiteRepository) Insert(ctx context.Context, rec *ClipRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO clips (
			clip_id, title, creator_name, broadcaster_name, category_id, category_name,
			view_count, duration, source_url, local_path, downloaded_at, upload_status, attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0)
	`, rec.ClipID, rec.Title, nullString(rec.CreatorName), nullString(rec.BroadcasterName),
		nullString(rec.CategoryID), nullString(rec.CategoryName),
		rec.ViewCount, rec.Duration, rec.SourceURL, nullString(rec.LocalPath),
		rec.DownloadedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Exists(ctx context.Context, clipID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM clips WHERE clip_id = ?", clipID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, clipID string) (*ClipRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE clip_id = ?
	`, clipID)
	return scanClip(row)
}

func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]*ClipRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips
		ORDER BY downloaded_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, status string) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips
		WHERE upload_status = ? ORDER BY downloaded_at ASC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

// ListUploadable returns pending clips whose backoff window has elapsed,
// oldest first.
func (r *SQLiteRepository) ListUploadable(ctx context.Context, now time.Time) ([]*ClipRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clipColumns+` FROM clips
		WHERE upload_status = 'pending'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY downloaded_at ASC
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanClips(rows)
}

func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN upload_status = 'uploaded' THEN 1 ELSE 0 END),
			SUM(CASE WHEN upload_status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN upload_status = 'failed' THEN 1 ELSE 0 END)
		FROM clips
	`)
	var s Stats
	var uploaded, pending, failed sql.NullInt64
	if err := row.Scan(&s.Total, &uploaded, &pending, &failed); err != nil {
		return nil, err
	}
	s.Uploaded = int(uploaded.Int64)
	s.Pending = int(pending.Int64)
	s.Failed = int(failed.Int64)
	return &s, nil
}

// MarkUploaded commits the terminal uploaded state and clears local_path in
// the same statement so the row never claims media that is being reclaimed.
func (r *SQLiteRepository) MarkUploaded(ctx context.Context, clipID, remoteID, remoteURL string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET
			upload_status = 'uploaded',
			uploaded_at = ?,
			remote_id = ?,
			remote_url = ?,
			local_path = NULL,
			last_error = NULL,
			next_attempt_at = NULL
		WHERE clip_id = ?
	`, at.UTC().Format(time.RFC3339), remoteID, remoteURL, clipID)
	return err
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, clipID, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET
			upload_status = 'failed',
			last_error = ?,
			next_attempt_at = NULL
		WHERE clip_id = ?
	`, nullString(reason), clipID)
	return err
}

// RecordTransientFailure keeps the clip pending, bumps the attempt counter
// and stamps the next eligible attempt time.
func (r *SQLiteRepository) RecordTransientFailure(ctx context.Context, clipID, reason string, nextAttempt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET
			attempts = attempts + 1,
			last_error = ?,
			next_attempt_at = ?
		WHERE clip_id = ? AND upload_status = 'pending'
	`, nullString(reason), nextAttempt.UTC().Format(time.RFC3339), clipID)
	return err
}

func (r *SQLiteRepository) Delete(ctx context.Context, clipID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE clip_id = ?", clipID)
	return err
}

func scanClip(row *sql.Row) (*ClipRecord, error) {
	var rec ClipRecord
	var creator, broadcaster, catID, catName, localPath, remoteID, remoteURL, lastError sql.NullString
	var downloadedAt string
	var uploadedAt, nextAttemptAt sql.NullString

	err := row.Scan(&rec.ClipID, &rec.Title, &creator, &broadcaster, &catID, &catName,
		&rec.ViewCount, &rec.Duration, &rec.SourceURL, &localPath, &downloadedAt, &uploadedAt,
		&remoteID, &remoteURL, &rec.UploadStatus, &lastError, &rec.Attempts, &nextAttemptAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fillClip(&rec, creator, broadcaster, catID, catName, localPath, remoteID, remoteURL, lastError, downloadedAt, uploadedAt, nextAttemptAt)
	return &rec, nil
}

func scanClips(rows *sql.Rows) ([]*ClipRecord, error) {
	var clips []*ClipRecord
	for rows.Next() {
		var rec ClipRecord
		var creator, broadcaster, catID, catName, localPath, remoteID, remoteURL, lastError sql.NullString
		var downloadedAt string
		var uploadedAt, nextAttemptAt sql.NullString

		if err := rows.Scan(&rec.ClipID, &rec.Title, &creator, &broadcaster, &catID, &catName,
			&rec.ViewCount, &rec.Duration, &rec.SourceURL, &localPath, &downloadedAt, &uploadedAt,
			&remoteID, &remoteURL, &rec.UploadStatus, &lastError, &rec.Attempts, &nextAttemptAt); err != nil {
			return nil, err
		}
		fillClip(&rec, creator, broadcaster, catID, catName, localPath, remoteID, remoteURL, lastError, downloadedAt, uploadedAt, nextAttemptAt)
		clips = append(clips, &rec)
	}
	return clips, rows.Err()
}

func fillClip(rec *ClipRecord, creator, broadcaster, catID, catName, localPath, remoteID, remoteURL, lastError sql.NullString, downloadedAt string, uploadedAt, nextAttemptAt sql.NullString) {
	rec.CreatorName = creator.String
	rec.BroadcasterName = broadcaster.String
	rec.CategoryID = catID.String
	rec.CategoryName = catName.String
	rec.LocalPath = localPath.String
	rec.RemoteID = remoteID.String
	rec.RemoteURL = remoteURL.String
	rec.LastError = lastError.String
	rec.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt)
	if uploadedAt.Valid {
		t, err := time.Parse(time.RFC3339, uploadedAt.String)
		if err == nil {
			rec.UploadedAt = &t
		}
	}
	if nextAttemptAt.Valid {
		t, err := time.Parse(time.RFC3339, nextAttemptAt.String)
		if err == nil {
			rec.NextAttemptAt = &t
		}
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
