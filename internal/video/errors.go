package video

import "errors"

var (
	// ErrVideoDisabled is returned by every lifecycle operation when no provider is configured.
	ErrVideoDisabled = errors.New("video is not configured")
	// ErrNoRoom means the session has no room to join.
	ErrNoRoom = errors.New("no video room for this session")
	// ErrNotHost is returned when a host-only operation is called by someone else.
	ErrNotHost = errors.New("only the session host can do this")
	// ErrNotParticipant is returned when the caller is neither host nor participant.
	ErrNotParticipant = errors.New("not a member of this session")
	// ErrSessionNotFound is returned when the scheduled session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrShareExpired is returned for a share token past its expiry.
	ErrShareExpired = errors.New("share link expired")
	// ErrRecordingNotFound is returned for an unknown share token.
	ErrRecordingNotFound = errors.New("recording not found")
)
