// Package uploader moves pending ledger records to the destination
// platform. It runs as a periodic sweep and is also poked directly after
// each acquisition.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/clipcycle/clipcycle/internal/config"
	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/youtube"
)

const (
	backoffBase = time.Minute
	backoffCap  = 6 * time.Hour
)

// CredentialSource yields a valid destination-platform token, refreshing
// it when needed. (nil, nil) means no account is connected.
type CredentialSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Orchestrator sweeps the ledger for uploadable records. Per-record upload
// attempts are single-flighted by clip id, so a triggered upload and a
// concurrent sweep can never double-post the same clip.
type Orchestrator struct {
	repo     ledger.Repository
	creds    CredentialSource
	client   youtube.Client
	settings config.UploadSettings
	logger   *slog.Logger

	group singleflight.Group
	now   func() time.Time
}

func New(repo ledger.Repository, creds CredentialSource, client youtube.Client,
	settings config.UploadSettings, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		creds:    creds,
		client:   client,
		settings: settings,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep attempts every pending record whose backoff window has elapsed.
// "Not connected" is not a failure: records simply stay pending.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	token, err := o.creds.Token(ctx)
	if err != nil {
		if errors.Is(err, youtube.ErrAuthExpired) {
			return o.failAllUploadable(ctx, err)
		}
		if o.logger != nil {
			o.logger.Warn("credential refresh failed, will retry next sweep", "error", err)
		}
		return nil
	}
	if token == nil {
		return nil
	}

	records, err := o.repo.ListUploadable(ctx, o.now())
	if err != nil {
		return fmt.Errorf("failed to list uploadable clips: %w", err)
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.uploadOne(ctx, rec.ClipID, token)
	}
	return nil
}

// uploadOne runs a single-flighted upload attempt for one clip. The record
// is re-read inside the flight so two callers racing on the same clip both
// observe the committed outcome of whichever attempt ran.
func (o *Orchestrator) uploadOne(ctx context.Context, clipID string, token *oauth2.Token) {
	o.group.Do(clipID, func() (interface{}, error) {
		rec, err := o.repo.Get(ctx, clipID)
		if err != nil || rec == nil {
			return nil, err
		}
		if rec.UploadStatus != ledger.StatusPending {
			return nil, nil
		}
		if rec.NextAttemptAt != nil && rec.NextAttemptAt.After(o.now()) {
			return nil, nil
		}

		if rec.LocalPath == "" {
			o.markFailed(ctx, rec, fmt.Errorf("%w: no local media recorded", youtube.ErrInvalidMedia))
			return nil, nil
		}

		meta := renderMetadata(o.settings, rec)
		result, err := o.client.Upload(ctx, rec.LocalPath, meta, token)
		if err != nil {
			o.recordFailure(ctx, rec, err)
			return nil, nil
		}

		if err := o.repo.MarkUploaded(ctx, rec.ClipID, result.RemoteID, result.RemoteURL, o.now()); err != nil {
			if o.logger != nil {
				o.logger.Error("upload succeeded but status update failed", "clip_id", rec.ClipID, "error", err)
			}
			return nil, err
		}

		// Media is reclaimed only after the uploaded state is durable.
		if err := os.Remove(rec.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			if o.logger != nil {
				o.logger.Warn("could not remove uploaded media", "path", rec.LocalPath, "error", err)
			}
		}

		if o.logger != nil {
			o.logger.Info("clip uploaded", "clip_id", rec.ClipID, "remote_url", result.RemoteURL)
		}
		return nil, nil
	})
}

func (o *Orchestrator) recordFailure(ctx context.Context, rec *ledger.ClipRecord, err error) {
	if youtube.IsPermanent(err) {
		o.markFailed(ctx, rec, err)
		return
	}

	delay := backoffDelay(rec.Attempts)
	next := o.now().Add(delay)
	if uerr := o.repo.RecordTransientFailure(ctx, rec.ClipID, err.Error(), next); uerr != nil && o.logger != nil {
		o.logger.Error("failed to record transient failure", "clip_id", rec.ClipID, "error", uerr)
	}
	if o.logger != nil {
		o.logger.Warn("upload attempt failed, will retry",
			"clip_id", rec.ClipID, "attempts", rec.Attempts+1, "retry_in", delay, "error", err)
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, rec *ledger.ClipRecord, err error) {
	if uerr := o.repo.MarkFailed(ctx, rec.ClipID, err.Error()); uerr != nil && o.logger != nil {
		o.logger.Error("failed to mark clip failed", "clip_id", rec.ClipID, "error", uerr)
	}
	if o.logger != nil {
		o.logger.Error("upload failed permanently", "clip_id", rec.ClipID, "error", err)
	}
}

// failAllUploadable handles a revoked grant: every record due for upload is
// marked failed, since no attempt can succeed until a human reconnects.
func (o *Orchestrator) failAllUploadable(ctx context.Context, cause error) error {
	records, err := o.repo.ListUploadable(ctx, o.now())
	if err != nil {
		return err
	}
	for _, rec := range records {
		o.markFailed(ctx, rec, cause)
	}
	return nil
}

// backoffDelay doubles per recorded attempt: 1m, 2m, 4m, ... capped at 6h.
func backoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	delay := backoffBase
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= backoffCap {
			return backoffCap
		}
	}
	return delay
}

// renderMetadata interpolates the configured templates with record fields.
// Placeholders: {clip_title} {creator} {broadcaster} {game} {clip_url}
// {views} {duration}.
func renderMetadata(settings config.UploadSettings, rec *ledger.ClipRecord) youtube.Metadata {
	r := strings.NewReplacer(
		"{clip_title}", rec.Title,
		"{creator}", rec.CreatorName,
		"{broadcaster}", rec.BroadcasterName,
		"{game}", rec.CategoryName,
		"{clip_url}", rec.SourceURL,
		"{views}", strconv.Itoa(rec.ViewCount),
		"{duration}", strconv.FormatFloat(rec.Duration, 'f', 1, 64),
	)
	return youtube.Metadata{
		Title:       r.Replace(settings.TitleTemplate),
		Description: r.Replace(settings.DescriptionTemplate),
		Tags:        settings.Tags,
		CategoryID:  settings.CategoryID,
		Privacy:     settings.Privacy,
	}
}
