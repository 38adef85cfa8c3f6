package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrRoomNotFound is matched by provider errors for rooms the provider does not know.
var ErrRoomNotFound = errors.New("room not found at provider")

// Room is the provider's descriptor of a hosted audio/video room.
type Room struct {
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	MaxParticipants int       `json:"max_participants"`
}

// MeetingToken is a per-user credential for one room. It is never stored server-side.
type MeetingToken struct {
	Token     string    `json:"token"`
	RoomName  string    `json:"room_name"`
	UserID    string    `json:"user_id"`
	IsOwner   bool      `json:"is_owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateRoomParams describes a room to create. Rooms are always private.
type CreateRoomParams struct {
	Name            string
	ExpiresAt       time.Time
	MaxParticipants int
	EnableRecording bool
}

// TokenParams describes a meeting token to issue.
type TokenParams struct {
	RoomName            string
	UserID              string
	UserName            string
	IsOwner             bool
	ExpiresAt           time.Time
	StartCloudRecording bool
}

// RoomProvider is the capability set of an external room-hosting service.
type RoomProvider interface {
	CreateRoom(ctx context.Context, p CreateRoomParams) (*Room, error)
	CreateMeetingToken(ctx context.Context, p TokenParams) (*MeetingToken, error)
	GetRoom(ctx context.Context, name string) (*Room, error)
	DeleteRoom(ctx context.Context, name string) error
}

// ProviderError is a failed call to the room provider: either a non-2xx answer carrying the
// response body, or a transport failure (StatusCode 0) wrapping Err.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 && e.Err != nil {
		return fmt.Sprintf("video provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("video provider %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRoomNotFound) match a provider 404.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRoomNotFound && e.StatusCode == http.StatusNotFound
}
