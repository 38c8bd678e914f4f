// Package youtube is the destination-platform client: uploads, the OAuth
// credential lifecycle and analytics reporting pass-through.
package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"

	maxTitleRunes       = 100
	maxDescriptionRunes = 5000
)

// Metadata is the rendered upload metadata for one clip.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
	CategoryID  string
	Privacy     string
}

type UploadResult struct {
	RemoteID  string
	RemoteURL string
}

// Client is the upload capability the orchestrator consumes.
type Client interface {
	Upload(ctx context.Context, path string, meta Metadata, tok *oauth2.Token) (*UploadResult, error)
}

// APIClient implements Client against the videos.insert multipart upload
// endpoint.
type APIClient struct {
	uploadURL    string
	analyticsURL string
	httpClient   *http.Client
	logger       *slog.Logger
}

func NewAPIClient(logger *slog.Logger) *APIClient {
	return &APIClient{
		uploadURL:    defaultUploadURL,
		analyticsURL: defaultAnalyticsURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		logger: logger,
	}
}

// SetUploadURL overrides the API endpoint. Used by tests.
func (c *APIClient) SetUploadURL(u string) {
	c.uploadURL = u
}

func (c *APIClient) Upload(ctx context.Context, path string, meta Metadata, tok *oauth2.Token) (*UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open media: %v", ErrInvalidMedia, err)
	}
	defer file.Close()

	snippet := map[string]interface{}{
		"snippet": map[string]interface{}{
			"title":       truncateRunes(meta.Title, maxTitleRunes),
			"description": truncateRunes(meta.Description, maxDescriptionRunes),
			"tags":        meta.Tags,
			"categoryId":  meta.CategoryID,
		},
		"status": map[string]interface{}{
			"privacyStatus":           meta.Privacy,
			"selfDeclaredMadeForKids": false,
		},
	}
	metaJSON, err := json.Marshal(snippet)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", "video/mp4")
	part, err = mw.CreatePart(mediaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, &TransientError{Err: err}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	url := c.uploadURL + "?uploadType=multipart&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	tok.SetAuthHeader(req)

	if c.logger != nil {
		c.logger.Info("uploading media", "path", path, "title", meta.Title, "bytes", body.Len())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(respBody, &out); err != nil || out.ID == "" {
			return nil, &TransientError{Err: fmt.Errorf("upload response missing video id")}
		}
		return &UploadResult{
			RemoteID:  out.ID,
			RemoteURL: "https://youtube.com/watch?v=" + out.ID,
		}, nil
	}

	return nil, classifyStatus(resp.StatusCode, respBody)
}

// classifyStatus maps an API error response onto the failure taxonomy.
func classifyStatus(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))

	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: HTTP 401", ErrAuthExpired)
	case status == http.StatusForbidden:
		lower := strings.ToLower(detail)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "uploadlimit") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, firstLine(detail))
		}
		return fmt.Errorf("%w: HTTP 403: %s", ErrAuthExpired, firstLine(detail))
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalidMedia, status, firstLine(detail))
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Err: fmt.Errorf("HTTP %d: %s", status, firstLine(detail))}
	default:
		return fmt.Errorf("%w: unexpected HTTP %d: %s", ErrInvalidMedia, status, firstLine(detail))
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
