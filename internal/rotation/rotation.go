// Package rotation owns the ordered candidate list and the persistent
// cursor that cycles through it, one candidate per acquisition tick.
package rotation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyRotation is returned while no candidates have been saved yet,
// or after a refresh produced an empty list.
var ErrEmptyRotation = errors.New("rotation has no candidates")

// Candidate is a content category eligible for the current rotation cycle.
// Rank is the position in the most recent refresh.
type Candidate struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ArtworkURL  string    `json:"artwork_url,omitempty"`
	Rank        int       `json:"rank"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Manager persists rotation state in SQLite. All mutation goes through
// Advance and Reset; both commit atomically so a restart resumes at the
// next candidate rather than the first.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewManager(db *sql.DB, logger *slog.Logger) *Manager {
	return &Manager{db: db, logger: logger}
}

// Current returns the candidate at the cursor.
func (m *Manager) Current(ctx context.Context) (*Candidate, error) {
	candidates, err := m.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyRotation
	}

	cursor, err := m.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	return candidates[cursor%len(candidates)], nil
}

// Advance moves the cursor to the next candidate, wrapping at the end of
// the list. The increment happens inside a single UPDATE so two concurrent
// calls can never both commit the same resulting cursor.
func (m *Manager) Advance(ctx context.Context) error {
	res, err := m.db.ExecContext(ctx, `
		UPDATE rotation_state
		SET cursor = (cursor + 1) % (SELECT COUNT(*) FROM candidates),
		    updated_at = ?
		WHERE id = 1 AND (SELECT COUNT(*) FROM candidates) > 0
	`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to advance rotation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEmptyRotation
	}
	return nil
}

// Reset replaces the candidate list and clamps the cursor into the new
// range. A previously empty rotation restarts at 0. The swap and the clamp
// commit in one transaction.
func (m *Manager) Reset(ctx context.Context, candidates []*Candidate) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldCount, cursor int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates").Scan(&oldCount); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, "SELECT cursor FROM rotation_state WHERE id = 1").Scan(&cursor); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM candidates"); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, c := range candidates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO candidates (rank, category_id, name, artwork_url, refreshed_at)
			VALUES (?, ?, ?, ?, ?)
		`, i, c.ID, c.Name, c.ArtworkURL, now.Format(time.RFC3339))
		if err != nil {
			return err
		}
	}

	switch {
	case len(candidates) == 0:
		cursor = 0
	case oldCount == 0:
		cursor = 0
	case cursor >= len(candidates):
		cursor = len(candidates) - 1
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rotation_state SET cursor = ?, updated_at = ? WHERE id = 1
	`, cursor, now.Format(time.RFC3339)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if m.logger != nil {
		m.logger.Info("rotation reset", "candidates", len(candidates), "cursor", cursor)
	}
	return nil
}

// Cursor returns the persisted cursor value.
func (m *Manager) Cursor(ctx context.Context) (int, error) {
	var cursor int
	err := m.db.QueryRowContext(ctx, "SELECT cursor FROM rotation_state WHERE id = 1").Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to read rotation cursor: %w", err)
	}
	return cursor, nil
}

// Candidates returns the current candidate list ordered by rank.
func (m *Manager) Candidates(ctx context.Context) ([]*Candidate, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT rank, category_id, name, artwork_url, refreshed_at
		FROM candidates ORDER BY rank ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []*Candidate
	for rows.Next() {
		var c Candidate
		var artwork sql.NullString
		var refreshedAt string
		if err := rows.Scan(&c.Rank, &c.ID, &c.Name, &artwork, &refreshedAt); err != nil {
			return nil, err
		}
		c.ArtworkURL = artwork.String
		c.RefreshedAt, _ = time.Parse(time.RFC3339, refreshedAt)
		candidates = append(candidates, &c)
	}
	return candidates, rows.Err()
}
