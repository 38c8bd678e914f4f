// Package download fetches clip media to local storage.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadError marks media that could not be retrieved: malformed URL,
// missing object, truncated body. It is permanent for that clip; the
// rotation simply advances.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download of %s failed: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

type Fetcher interface {
	Fetch(ctx context.Context, remoteURL, destPath string) error
}

// HTTPFetcher downloads over plain HTTP into a temp file, then renames into
// place so a crashed download never leaves a half-written clip at destPath.
type HTTPFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPFetcher(logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, remoteURL, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create downloads directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return &DownloadError{URL: remoteURL, Err: err}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return &DownloadError{URL: remoteURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DownloadError{URL: remoteURL, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &DownloadError{URL: remoteURL, Err: err}
	}
	if written == 0 {
		return &DownloadError{URL: remoteURL, Err: fmt.Errorf("empty body")}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}

	if f.logger != nil {
		f.logger.Info("media downloaded", "url", remoteURL, "path", destPath, "bytes", written)
	}
	return nil
}

// Filename builds the local media filename for a clip:
// 20060102_150405_<category>_<clipID>.mp4 with the category sanitized.
func Filename(now time.Time, categoryName, clipID string) string {
	safe := SanitizeName(categoryName, 48)
	if safe == "" {
		safe = "clip"
	}
	return fmt.Sprintf("%s_%s_%s.mp4", now.UTC().Format("20060102_150405"), safe, SanitizeName(clipID, 64))
}
