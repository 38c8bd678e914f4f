package api

import (
	"time"

	"github.com/clipcycle/clipcycle/internal/ledger"
	"github.com/clipcycle/clipcycle/internal/rotation"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatsResponse struct {
	TotalClips       int  `json:"total_clips"`
	Uploaded         int  `json:"uploaded"`
	Pending          int  `json:"pending"`
	Failed           int  `json:"failed"`
	YouTubeConnected bool `json:"youtube_connected"`
}

type ClipResponse struct {
	ClipID          string  `json:"clip_id"`
	Title           string  `json:"title"`
	CreatorName     string  `json:"creator_name,omitempty"`
	BroadcasterName string  `json:"broadcaster_name,omitempty"`
	CategoryName    string  `json:"category_name,omitempty"`
	ViewCount       int     `json:"view_count"`
	Duration        float64 `json:"duration"`
	SourceURL       string  `json:"source_url"`
	HasMedia        bool    `json:"has_media"`
	DownloadedAt    string  `json:"downloaded_at"`
	UploadedAt      string  `json:"uploaded_at,omitempty"`
	RemoteURL       string  `json:"remote_url,omitempty"`
	UploadStatus    string  `json:"upload_status"`
	LastError       string  `json:"last_error,omitempty"`
	Attempts        int     `json:"attempts"`
}

type ClipsResponse struct {
	Clips  []ClipResponse `json:"clips"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type RotationResponse struct {
	Cursor     int                   `json:"cursor"`
	Candidates []*rotation.Candidate `json:"candidates"`
}

type CleanupResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Count   int    `json:"count"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	ClipID  string `json:"clip_id"`
}

type DisconnectResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ClipToResponse(rec *ledger.ClipRecord) ClipResponse {
	resp := ClipResponse{
		ClipID:          rec.ClipID,
		Title:           rec.Title,
		CreatorName:     rec.CreatorName,
		BroadcasterName: rec.BroadcasterName,
		CategoryName:    rec.CategoryName,
		ViewCount:       rec.ViewCount,
		Duration:        rec.Duration,
		SourceURL:       rec.SourceURL,
		HasMedia:        rec.LocalPath != "",
		DownloadedAt:    rec.DownloadedAt.Format(time.RFC3339),
		RemoteURL:       rec.RemoteURL,
		UploadStatus:    rec.UploadStatus,
		LastError:       rec.LastError,
		Attempts:        rec.Attempts,
	}
	if rec.UploadedAt != nil {
		resp.UploadedAt = rec.UploadedAt.Format(time.RFC3339)
	}
	return resp
}
