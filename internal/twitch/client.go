// Package twitch is the source-platform client. It talks to the Helix API
// with an app access token obtained through the client-credentials flow.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultBaseURL = "https://api.twitch.tv/helix"
	TokenURL       = "https://id.twitch.tv/oauth2/token"
)

// ErrNoClipFound means the window held no clips for the category. It is not
// a failure; the caller retries the category on a later cycle.
var ErrNoClipFound = errors.New("no clip found in window")

// Category is a game/category as ranked by the platform.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// Clip is one clip as returned by the Helix clips endpoint.
type Clip struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	CreatorName     string    `json:"creator_name"`
	BroadcasterName string    `json:"broadcaster_name"`
	GameID          string    `json:"game_id"`
	ViewCount       int       `json:"view_count"`
	Duration        float64   `json:"duration"`
	CreatedAt       time.Time `json:"created_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
}

// MediaURL derives the direct MP4 URL from the clip thumbnail. Thumbnails
// look like ".../AT-cm%7C123-preview-480x272.jpg"; the media lives at the
// same path with the -preview suffix replaced by .mp4.
func (c *Clip) MediaURL() (string, error) {
	idx := strings.Index(c.ThumbnailURL, "-preview-")
	if idx < 0 {
		return "", fmt.Errorf("thumbnail url %q has no -preview- segment", c.ThumbnailURL)
	}
	return c.ThumbnailURL[:idx] + ".mp4", nil
}

// Client is the capability surface the jobs consume.
type Client interface {
	ListTopCategories(ctx context.Context, n int) ([]*Category, error)
	TopClip(ctx context.Context, categoryID string, window time.Duration) (*Clip, error)
}

// HelixClient implements Client against the real API.
type HelixClient struct {
	baseURL     string
	clientID    string
	tokenSource oauth2.TokenSource
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewHelixClient(clientID, clientSecret string, logger *slog.Logger) *HelixClient {
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     TokenURL,
	}
	return &HelixClient{
		baseURL:     DefaultBaseURL,
		clientID:    clientID,
		tokenSource: cc.TokenSource(context.Background()),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// SetBaseURL overrides the API endpoint. Used by tests.
func (c *HelixClient) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

func (c *HelixClient) ListTopCategories(ctx context.Context, n int) ([]*Category, error) {
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}

	params := url.Values{}
	params.Set("first", fmt.Sprintf("%d", n))

	var out struct {
		Data []*Category `json:"data"`
	}
	if err := c.get(ctx, "/games/top", params, &out); err != nil {
		return nil, fmt.Errorf("failed to list top categories: %w", err)
	}

	categories := make([]*Category, 0, len(out.Data))
	for _, cat := range out.Data {
		if cat.ID == "" || cat.Name == "" {
			continue
		}
		categories = append(categories, cat)
	}
	return categories, nil
}

// TopClip returns the highest-viewed clip created within the window for the
// category. Ties on view count break toward the earliest creation time so
// repeated queries over the same window are reproducible.
func (c *HelixClient) TopClip(ctx context.Context, categoryID string, window time.Duration) (*Clip, error) {
	end := time.Now().UTC()
	start := end.Add(-window)

	params := url.Values{}
	params.Set("game_id", categoryID)
	params.Set("started_at", start.Format(time.RFC3339))
	params.Set("ended_at", end.Format(time.RFC3339))
	params.Set("first", "20")

	var out struct {
		Data []*Clip `json:"data"`
	}
	if err := c.get(ctx, "/clips", params, &out); err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}

	clips := out.Data[:0]
	for _, clip := range out.Data {
		if clip.ID == "" || clip.URL == "" {
			continue
		}
		clips = append(clips, clip)
	}
	if len(clips) == 0 {
		return nil, ErrNoClipFound
	}

	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].ViewCount != clips[j].ViewCount {
			return clips[i].ViewCount > clips[j].ViewCount
		}
		return clips[i].CreatedAt.Before(clips[j].CreatedAt)
	})
	return clips[0], nil
}

// get performs an authenticated GET with bounded retries on transient
// failures. 4xx responses are returned immediately.
func (c *HelixClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)

	return backoff.Retry(func() error {
		token, err := c.tokenSource.Token()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to obtain app token: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Client-ID", c.clientID)
		token.SetAuthHeader(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.Unmarshal(body, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("helix %s: HTTP %d", path, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("helix %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
		}
	}, policy)
}
