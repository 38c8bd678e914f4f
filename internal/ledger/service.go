package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Service wraps the repository with the operations that touch both the
// ledger and the on-disk media files.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Repo() Repository {
	return s.repo
}

func (s *Service) Get(ctx context.Context, clipID string) (*ClipRecord, error) {
	return s.repo.Get(ctx, clipID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*ClipRecord, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

// DeleteRecord removes a single clip: the media file first (a missing file
// is fine, the record may already be uploaded), then the row. If the file
// cannot be removed the row is kept so nothing dangles.
func (s *Service) DeleteRecord(ctx context.Context, clipID string) error {
	rec, err := s.repo.Get(ctx, clipID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}

	if rec.LocalPath != "" {
		if err := removeFile(rec.LocalPath); err != nil {
			return fmt.Errorf("failed to remove media for clip %s: %w", clipID, err)
		}
	}

	if err := s.repo.Delete(ctx, clipID); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("clip deleted", "clip_id", clipID, "status", rec.UploadStatus)
	}
	return nil
}

// Cleanup deletes every record with the given status together with its media
// file, one record at a time. A record whose file cannot be removed is
// skipped and left intact. Returns the number of records removed.
func (s *Service) Cleanup(ctx context.Context, status string) (int, error) {
	if status != StatusPending && status != StatusFailed {
		return 0, fmt.Errorf("cleanup status must be pending or failed, got %q", status)
	}

	records, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range records {
		if rec.LocalPath != "" {
			if err := removeFile(rec.LocalPath); err != nil {
				if s.logger != nil {
					s.logger.Warn("skipping cleanup of clip, media not removable",
						"clip_id", rec.ClipID, "path", rec.LocalPath, "error", err)
				}
				continue
			}
		}
		if err := s.repo.Delete(ctx, rec.ClipID); err != nil {
			return deleted, err
		}
		deleted++
	}

	if s.logger != nil {
		s.logger.Info("cleanup complete", "status", status, "deleted", deleted)
	}
	return deleted, nil
}

// ErrNotFound is returned when a clip id has no ledger row.
var ErrNotFound = errors.New("clip not found")

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
