// Package jobs holds the scheduled job bodies: the daily category refresh
// and the hourly clip acquisition.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clipcycle/clipcycle/internal/rotation"
	"github.com/clipcycle/clipcycle/internal/twitch"
)

// RefreshJob repopulates the rotation candidates from the source platform's
// current top categories.
type RefreshJob struct {
	source   twitch.Client
	rotation *rotation.Manager
	size     int
	logger   *slog.Logger
}

func NewRefreshJob(source twitch.Client, rot *rotation.Manager, size int, logger *slog.Logger) *RefreshJob {
	return &RefreshJob{source: source, rotation: rot, size: size, logger: logger}
}

// Run queries the top categories and resets the rotation. On query failure
// the existing rotation is left untouched; stale candidates keep cycling
// until the next successful refresh.
func (j *RefreshJob) Run(ctx context.Context) error {
	categories, err := j.source.ListTopCategories(ctx, j.size)
	if err != nil {
		return fmt.Errorf("category query failed, keeping current rotation: %w", err)
	}
	if len(categories) == 0 {
		if j.logger != nil {
			j.logger.Warn("source returned no categories, keeping current rotation")
		}
		return nil
	}

	candidates := make([]*rotation.Candidate, 0, len(categories))
	for i, cat := range categories {
		candidates = append(candidates, &rotation.Candidate{
			ID:         cat.ID,
			Name:       cat.Name,
			ArtworkURL: cat.BoxArtURL,
			Rank:       i,
		})
	}

	if err := j.rotation.Reset(ctx, candidates); err != nil {
		return fmt.Errorf("failed to persist refreshed candidates: %w", err)
	}

	if j.logger != nil {
		for _, c := range candidates {
			j.logger.Info("candidate refreshed", "rank", c.Rank, "category", c.Name, "category_id", c.ID)
		}
	}
	return nil
}
