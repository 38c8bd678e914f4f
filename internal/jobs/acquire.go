package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipcycle/clipcycle/internal/download"
	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/rotation"
	"github.com/clipcycle/clipcycle/internal/twitch"
)

// AcquireJob downloads the best recent clip for the candidate at the
// rotation cursor and records it in the ledger as pending.
type AcquireJob struct {
	repo         ledger.Repository
	rotation     *rotation.Manager
	source       twitch.Client
	fetcher      download.Fetcher
	downloadsDir string
	window       time.Duration
	notify       func()
	logger       *slog.Logger

	now func() time.Time
}

func NewAcquireJob(repo ledger.Repository, rot *rotation.Manager, source twitch.Client,
	fetcher download.Fetcher, downloadsDir string, window time.Duration, logger *slog.Logger) *AcquireJob {
	return &AcquireJob{
		repo:         repo,
		rotation:     rot,
		source:       source,
		fetcher:      fetcher,
		downloadsDir: downloadsDir,
		window:       window,
		notify:       func() {},
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// OnAcquired registers a callback fired after each successful ledger
// insert. The uploader hooks in here so fresh clips go out without waiting
// for the next sweep.
func (j *AcquireJob) OnAcquired(fn func()) {
	if fn != nil {
		j.notify = fn
	}
}

// Run performs one acquisition tick. Once a candidate has been selected the
// rotation always advances, whatever else happens: a candidate with no
// content or a broken download must not stall the cycle.
func (j *AcquireJob) Run(ctx context.Context) error {
	candidate, err := j.rotation.Current(ctx)
	if errors.Is(err, rotation.ErrEmptyRotation) {
		if j.logger != nil {
			j.logger.Info("no candidates yet, waiting for category refresh")
		}
		return nil
	}
	if err != nil {
		return err
	}

	defer func() {
		if err := j.rotation.Advance(ctx); err != nil && j.logger != nil {
			j.logger.Error("failed to advance rotation", "error", err)
		}
	}()

	if j.logger != nil {
		j.logger.Info("acquiring clip", "category", candidate.Name, "category_id", candidate.ID)
	}

	clip, err := j.source.TopClip(ctx, candidate.ID, j.window)
	if errors.Is(err, twitch.ErrNoClipFound) {
		if j.logger != nil {
			j.logger.Info("no clips in window", "category", candidate.Name)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("clip query for %s failed: %w", candidate.Name, err)
	}

	exists, err := j.repo.Exists(ctx, clip.ID)
	if err != nil {
		return err
	}
	if exists {
		if j.logger != nil {
			j.logger.Info("clip already in ledger, skipping download", "clip_id", clip.ID)
		}
		return nil
	}

	mediaURL, err := clip.MediaURL()
	if err != nil {
		return &download.DownloadError{URL: clip.URL, Err: err}
	}

	now := j.now()
	localPath := filepath.Join(j.downloadsDir, download.Filename(now, candidate.Name, clip.ID))
	if err := j.fetcher.Fetch(ctx, mediaURL, localPath); err != nil {
		return err
	}

	rec := &ledger.ClipRecord{
		ClipID:          clip.ID,
		Title:           clip.Title,
		CreatorName:     clip.CreatorName,
		BroadcasterName: clip.BroadcasterName,
		CategoryID:      candidate.ID,
		CategoryName:    candidate.Name,
		ViewCount:       clip.ViewCount,
		Duration:        clip.Duration,
		SourceURL:       clip.URL,
		LocalPath:       localPath,
		DownloadedAt:    now,
	}

	inserted, err := j.repo.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to record clip %s: %w", clip.ID, err)
	}
	if !inserted {
		// Lost a race with another writer; drop the duplicate media.
		os.Remove(localPath)
		return nil
	}

	if j.logger != nil {
		j.logger.Info("clip acquired",
			"clip_id", clip.ID,
			"title", clip.Title,
			"category", candidate.Name,
			"views", clip.ViewCount,
			"path", localPath,
		)
	}

	j.notify()
	return nil
}
