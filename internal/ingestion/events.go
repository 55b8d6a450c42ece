package ingestion

import (
	"time"

	"github.com/your-org/guestlens/internal/media"
)

// Event types published on the media topic.
const (
	EventMediaAccepted = "media.accepted"
	EventMediaRejected = "media.rejected"
)

// StatusProcessing is the status of accepted media until downstream
// processing completes.
const StatusProcessing = "processing"

// AcceptedEvent is emitted when media passed the pipeline and is stored.
type AcceptedEvent struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	ContributorID string    `json:"contributor_id"`
	Kind          string    `json:"kind"`
	ContentType   string    `json:"content_type"`
	ObjectKey     string    `json:"object_key"`
	ThumbnailKey  string    `json:"thumbnail_key,omitempty"`
	Checksum      string    `json:"checksum"`
	SizeBytes     int64     `json:"size_bytes"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	DurationMs    int64     `json:"duration_ms,omitempty"`
	Caption       string    `json:"caption,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// RejectedEvent is emitted for moderation and abuse auditing.
type RejectedEvent struct {
	EventID       string         `json:"event_id"`
	ContributorID string         `json:"contributor_id"`
	Kind          string         `json:"kind"`
	DeclaredType  string         `json:"declared_type"`
	Filename      string         `json:"filename,omitempty"`
	SizeBytes     int64          `json:"size_bytes"`
	Errors        []*media.Error `json:"errors"`
	RejectedAt    time.Time      `json:"rejected_at"`
}

func codes(issues []*media.Error) []string {
	if len(issues) == 0 {
		return nil
	}
	out := make([]string, len(issues))
	for i, e := range issues {
		out[i] = e.Code
	}
	return out
}
