package models

import (
	"time"

	"github.com/google/uuid"
)

// Archive status of a provider recording copied to S3.
const (
	ArchiveStatusPending  = "pending"
	ArchiveStatusArchived = "archived"
	ArchiveStatusFailed   = "failed"
)

// RecordingShareTTL is how long a recording share link stays valid.
const RecordingShareTTL = 30 * 24 * time.Hour

// RecordingRef points at a provider-side session recording and its share link.
type RecordingRef struct {
	ID                  uuid.UUID `json:"id"`
	SessionID           int64     `json:"session_id"`
	ProviderRecordingID string    `json:"provider_recording_id"`
	DurationSeconds     int       `json:"duration_seconds"`
	ShareToken          string    `json:"share_token"`
	ExpiresAt           time.Time `json:"expires_at"`
	S3Key               string    `json:"-"`
	ArchiveStatus       string    `json:"archive_status"`
	CreatedAt           time.Time `json:"created_at"`
}

// Expired reports whether the share link is no longer valid at now.
func (r *RecordingRef) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
