package ledger

import "time"

// Upload lifecycle of a ledger record. A clip enters the ledger as pending,
// and ends uploaded or failed. Only pending clips are retried.
const (
	StatusPending  = "pending"
	StatusUploaded = "uploaded"
	StatusFailed   = "failed"
)

// ValidStatus reports whether s is a recognized upload status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusUploaded, StatusFailed:
		return true
	default:
		return false
	}
}

// ClipRecord is the durable record of one downloaded clip. ClipID is the
// source platform's id and is unique across the ledger. RemoteID and
// RemoteURL are set only once the clip has been uploaded; LocalPath is
// cleared at the same time because the media file is reclaimed.
type ClipRecord struct {
	ClipID          string     `json:"clip_id"`
	Title           string     `json:"title"`
	CreatorName     string     `json:"creator_name,omitempty"`
	BroadcasterName string     `json:"broadcaster_name,omitempty"`
	CategoryID      string     `json:"category_id,omitempty"`
	CategoryName    string     `json:"category_name,omitempty"`
	ViewCount       int        `json:"view_count"`
	Duration        float64    `json:"duration"`
	SourceURL       string     `json:"source_url"`
	LocalPath       string     `json:"local_path,omitempty"`
	DownloadedAt    time.Time  `json:"downloaded_at"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	RemoteID        string     `json:"remote_id,omitempty"`
	RemoteURL       string     `json:"remote_url,omitempty"`
	UploadStatus    string     `json:"upload_status"`
	LastError       string     `json:"last_error,omitempty"`
	Attempts        int        `json:"attempts"`
	NextAttemptAt   *time.Time `json:"next_attempt_at,omitempty"`
}

// Stats aggregates ledger counts for the dashboard.
type Stats struct {
	Total    int `json:"total_clips"`
	Uploaded int `json:"uploaded"`
	Pending  int `json:"pending"`
	Failed   int `json:"failed"`
}
