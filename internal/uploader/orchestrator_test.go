package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/clipcycle/clipcycle/internal/config"
	"github.com/clipcycle/clipcycle/internal/db"
	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/youtube"
)

type staticCreds struct {
	token *oauth2.Token
	err   error
}

func (c *staticCreds) Token(ctx context.Context) (*oauth2.Token, error) {
	return c.token, c.err
}

type scriptedClient struct {
	// errs are returned in order; once exhausted the upload succeeds.
	errs  []error
	calls int
	meta  []youtube.Metadata
}

func (c *scriptedClient) Upload(ctx context.Context, path string, meta youtube.Metadata, tok *oauth2.Token) (*youtube.UploadResult, error) {
	c.calls++
	c.meta = append(c.meta, meta)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &youtube.UploadResult{
		RemoteID:  fmt.Sprintf("yt-%d", c.calls),
		RemoteURL: fmt.Sprintf("https://youtube.com/watch?v=yt-%d", c.calls),
	}, nil
}

func testSettings() config.UploadSettings {
	return config.UploadSettings{
		TitleTemplate:       "{clip_title} - {broadcaster}",
		DescriptionTemplate: "By {creator} playing {game}. Source: {clip_url}",
		Tags:                []string{"twitch"},
		CategoryID:          "20",
		Privacy:             "public",
	}
}

func setupOrchestrator(t *testing.T, client youtube.Client, creds CredentialSource) (*Orchestrator, ledger.Repository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	repo := ledger.NewRepository(database.Conn())
	return New(repo, creds, client, testSettings(), nil), repo
}

func insertPendingClip(t *testing.T, repo ledger.Repository, clipID string, withMedia bool) string {
	t.Helper()
	localPath := ""
	if withMedia {
		localPath = filepath.Join(t.TempDir(), clipID+".mp4")
		require.NoError(t, os.WriteFile(localPath, []byte("media"), 0644))
	}
	inserted, err := repo.Insert(context.Background(), &ledger.ClipRecord{
		ClipID:          clipID,
		Title:           "Big moment",
		CreatorName:     "clipper",
		BroadcasterName: "streamer",
		CategoryName:    "Tetris",
		ViewCount:       42,
		Duration:        15.5,
		SourceURL:       "https://clips.twitch.tv/" + clipID,
		LocalPath:       localPath,
		DownloadedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, inserted)
	return localPath
}

func TestSweep_UploadsPendingClip(t *testing.T) {
	client := &scriptedClient{}
	creds := &staticCreds{token: &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}
	orch, repo := setupOrchestrator(t, client, creds)
	ctx := context.Background()

	mediaPath := insertPendingClip(t, repo, "abc", true)

	require.NoError(t, orch.Sweep(ctx))

	rec, err := repo.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUploaded, rec.UploadStatus)
	require.Equal(t, "yt-1", rec.RemoteID)
	require.Empty(t, rec.LocalPath)

	_, statErr := os.Stat(mediaPath)
	require.True(t, os.IsNotExist(statErr), "media should be reclaimed after upload")

	// Rendered metadata carries the record fields.
	require.Equal(t, "Big moment - streamer", client.meta[0].Title)
	require.Contains(t, client.meta[0].Description, "clipper")
	require.Contains(t, client.meta[0].Description, "Tetris")
}

func TestSweep_NotConnectedLeavesPending(t *testing.T) {
	client := &scriptedClient{}
	orch, repo := setupOrchestrator(t, client, &staticCreds{token: nil})
	ctx := context.Background()

	insertPendingClip(t, repo, "abc", true)

	require.NoError(t, orch.Sweep(ctx))
	require.Zero(t, client.calls)

	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusPending, rec.UploadStatus)
}

func TestSweep_AuthExpiredFailsUploadable(t *testing.T) {
	client := &scriptedClient{}
	orch, repo := setupOrchestrator(t, client, &staticCreds{err: youtube.ErrAuthExpired})
	ctx := context.Background()

	insertPendingClip(t, repo, "abc", true)

	require.NoError(t, orch.Sweep(ctx))
	require.Zero(t, client.calls)

	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusFailed, rec.UploadStatus)
}

func TestSweep_TransientCredentialErrorLeavesPending(t *testing.T) {
	client := &scriptedClient{}
	orch, repo := setupOrchestrator(t, client,
		&staticCreds{err: &youtube.TransientError{Err: errors.New("refresh timeout")}})
	ctx := context.Background()

	insertPendingClip(t, repo, "abc", true)

	require.NoError(t, orch.Sweep(ctx))

	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusPending, rec.UploadStatus)
}

func TestSweep_QuotaExceededIsPermanent(t *testing.T) {
	client := &scriptedClient{errs: []error{fmt.Errorf("%w: daily limit", youtube.ErrQuotaExceeded)}}
	creds := &staticCreds{token: &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}
	orch, repo := setupOrchestrator(t, client, creds)
	ctx := context.Background()

	insertPendingClip(t, repo, "abc", true)

	require.NoError(t, orch.Sweep(ctx))

	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusFailed, rec.UploadStatus)
	require.Contains(t, rec.LastError, "quota")

	// Failed is terminal: many more sweeps never retry it.
	for i := 0; i < 10; i++ {
		require.NoError(t, orch.Sweep(ctx))
	}
	require.Equal(t, 1, client.calls)

	rec, _ = repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusFailed, rec.UploadStatus)
}

func TestSweep_TransientFailureRetriesWithBackoff(t *testing.T) {
	client := &scriptedClient{errs: []error{
		&youtube.TransientError{Err: errors.New("503")},
		&youtube.TransientError{Err: errors.New("network blip")},
	}}
	creds := &staticCreds{token: &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}
	orch, repo := setupOrchestrator(t, client, creds)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	orch.now = func() time.Time { return now }

	insertPendingClip(t, repo, "abc", true)

	// First attempt fails; the clip stays pending with a backoff stamp.
	require.NoError(t, orch.Sweep(ctx))
	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusPending, rec.UploadStatus)
	require.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.NextAttemptAt)
	require.Equal(t, now.Add(time.Minute), *rec.NextAttemptAt)

	// Sweeping before the window elapses does nothing.
	require.NoError(t, orch.Sweep(ctx))
	require.Equal(t, 1, client.calls)

	// Second attempt after the window: fails again, delay doubles.
	now = now.Add(2 * time.Minute)
	require.NoError(t, orch.Sweep(ctx))
	rec, _ = repo.Get(ctx, "abc")
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, now.Add(2*time.Minute), *rec.NextAttemptAt)

	// Third attempt succeeds; exactly one uploaded row, no duplicates.
	now = now.Add(5 * time.Minute)
	require.NoError(t, orch.Sweep(ctx))
	rec, _ = repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusUploaded, rec.UploadStatus)
	require.Equal(t, 3, client.calls)

	stats, _ := repo.Stats(ctx)
	require.Equal(t, 1, stats.Total)
	require.Equal(t, 1, stats.Uploaded)
}

func TestSweep_MissingMediaIsInvalid(t *testing.T) {
	client := &scriptedClient{}
	creds := &staticCreds{token: &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}}
	orch, repo := setupOrchestrator(t, client, creds)
	ctx := context.Background()

	insertPendingClip(t, repo, "abc", false)

	require.NoError(t, orch.Sweep(ctx))
	require.Zero(t, client.calls)

	rec, _ := repo.Get(ctx, "abc")
	require.Equal(t, ledger.StatusFailed, rec.UploadStatus)
}

func TestBackoffDelay(t *testing.T) {
	require.Equal(t, time.Minute, backoffDelay(0))
	require.Equal(t, 2*time.Minute, backoffDelay(1))
	require.Equal(t, 16*time.Minute, backoffDelay(4))
	require.Equal(t, 6*time.Hour, backoffDelay(20))
	require.Equal(t, time.Minute, backoffDelay(-3))
}
