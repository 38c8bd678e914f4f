package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const defaultAnalyticsURL = "https://youtubeanalytics.googleapis.com/v2/reports"

// DayStats is one day of channel metrics.
type DayStats struct {
	Date                   string  `json:"date"`
	Views                  int64   `json:"views"`
	WatchTimeMinutes       float64 `json:"watchTime"`
	AvgViewDurationSeconds float64 `json:"avgViewDuration"`
	SubscribersGained      int64   `json:"subscribersGained"`
	SubscribersLost        int64   `json:"subscribersLost"`
}

// Summary is the 28-day aggregate shown on the dashboard header.
type Summary struct {
	TotalViews        int64   `json:"totalViews"`
	TotalWatchTime    float64 `json:"totalWatchTime"`
	AvgViewDuration   float64 `json:"avgViewDuration"`
	SubscribersGained int64   `json:"subscribersGained"`
}

type AnalyticsReport struct {
	TimeSeries []DayStats `json:"timeSeries"`
	Summary    Summary    `json:"summary"`
}

// SetAnalyticsURL overrides the reporting endpoint. Used by tests.
func (c *APIClient) SetAnalyticsURL(u string) {
	c.analyticsURL = u
}

// Analytics fetches the daily time series for the last days days plus a
// 28-day summary. The core does not compute anything here; it only proxies
// the reporting API with a valid credential.
func (c *APIClient) Analytics(ctx context.Context, tok *oauth2.Token, days int) (*AnalyticsReport, error) {
	if days < 1 {
		days = 30
	}
	end := time.Now().UTC()

	series, err := c.queryReport(ctx, tok, url.Values{
		"ids":        {"channel==MINE"},
		"startDate":  {end.AddDate(0, 0, -days).Format("2006-01-02")},
		"endDate":    {end.Format("2006-01-02")},
		"metrics":    {"views,estimatedMinutesWatched,averageViewDuration,subscribersGained,subscribersLost"},
		"dimensions": {"day"},
		"sort":       {"day"},
	})
	if err != nil {
		return nil, err
	}

	summary, err := c.queryReport(ctx, tok, url.Values{
		"ids":       {"channel==MINE"},
		"startDate": {end.AddDate(0, 0, -28).Format("2006-01-02")},
		"endDate":   {end.Format("2006-01-02")},
		"metrics":   {"views,estimatedMinutesWatched,averageViewDuration,subscribersGained"},
	})
	if err != nil {
		return nil, err
	}

	report := &AnalyticsReport{TimeSeries: make([]DayStats, 0, len(series))}
	for _, row := range series {
		if len(row) < 6 {
			continue
		}
		day, _ := row[0].(string)
		report.TimeSeries = append(report.TimeSeries, DayStats{
			Date:                   day,
			Views:                  asInt64(row[1]),
			WatchTimeMinutes:       asFloat(row[2]),
			AvgViewDurationSeconds: asFloat(row[3]),
			SubscribersGained:      asInt64(row[4]),
			SubscribersLost:        asInt64(row[5]),
		})
	}

	if len(summary) > 0 && len(summary[0]) >= 4 {
		row := summary[0]
		report.Summary = Summary{
			TotalViews:        asInt64(row[0]),
			TotalWatchTime:    asFloat(row[1]),
			AvgViewDuration:   asFloat(row[2]),
			SubscribersGained: asInt64(row[3]),
		}
	}
	return report, nil
}

func (c *APIClient) queryReport(ctx context.Context, tok *oauth2.Token, params url.Values) ([][]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.analyticsURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}

	var out struct {
		Rows [][]interface{} `json:"rows"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode analytics response: %w", err)
	}
	return out.Rows, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}

func asInt64(v interface{}) int64 {
	return int64(asFloat(v))
}
