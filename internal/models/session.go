package models

import (
	"time"

	"github.com/google/uuid"
)

// Session status values.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// ScheduledSession is a booked one-to-one coaching session between a coach (host) and a learner.
type ScheduledSession struct {
	ID                int64     `json:"id"`
	HostUserID        uuid.UUID `json:"host_user_id"`
	ParticipantUserID uuid.UUID `json:"participant_user_id"`
	Title             string    `json:"title"`
	ScheduledAt       time.Time `json:"scheduled_at"`
	DurationMinutes   int       `json:"duration_minutes"`
	Status            string    `json:"status"`
	MeetingURL        string    `json:"meeting_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsMember reports whether userID is the host or the participant.
func (s *ScheduledSession) IsMember(userID uuid.UUID) bool {
	return s.HostUserID == userID || s.ParticipantUserID == userID
}
