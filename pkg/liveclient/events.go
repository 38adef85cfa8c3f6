package liveclient

import (
	"time"

	"github.com/coachline/backend/pkg/wire"
)

// Event is delivered to manager subscribers. The concrete types are listed below.
type Event interface {
	isEvent()
}

// StatusChanged reports a connection state transition.
type StatusChanged struct {
	State State
}

// Reset tells subscribers to discard all local presence and notification state
// (logout or permanent auth failure).
type Reset struct{}

// PresenceList replaces the online set.
type PresenceList struct {
	Users []wire.OnlineUser
}

// UserOnline reports a user that came online.
type UserOnline struct {
	User wire.OnlineUser
}

// UserOffline reports a user whose last connection closed.
type UserOffline struct {
	UserID string
}

// NotificationReceived carries a pushed notification.
type NotificationReceived struct {
	Notification wire.Notification
}

// TypingChanged carries a typing indicator update.
type TypingChanged struct {
	Indicator wire.TypingIndicator
}

// RoomReady announces a video room the user can now join.
type RoomReady struct {
	Room wire.RoomReadyPayload
}

// RoomEnded announces that a session's video was ended by the host.
type RoomEnded struct {
	SessionID int64
}

func (StatusChanged) isEvent()        {}
func (Reset) isEvent()                {}
func (PresenceList) isEvent()         {}
func (UserOnline) isEvent()           {}
func (UserOffline) isEvent()          {}
func (NotificationReceived) isEvent() {}
func (TypingChanged) isEvent()        {}
func (RoomReady) isEvent()            {}
func (RoomEnded) isEvent()            {}

// decodeEvent maps an application envelope onto a typed event. Control frames
// (auth_ok, auth_error, pong) are handled by the manager and never reach here.
// ok is false for unknown types and malformed payloads.
func decodeEvent(env wire.Envelope, now time.Time) (Event, bool) {
	switch env.Type {
	case wire.TypePresenceList:
		var p wire.PresenceListPayload
		if err := env.Unmarshal(&p); err != nil {
			return nil, false
		}
		users := make([]wire.OnlineUser, 0, len(p.Users))
		for _, u := range p.Users {
			if u.UserID != "" {
				users = append(users, u)
			}
		}
		return PresenceList{Users: users}, true
	case wire.TypeUserOnline:
		var p wire.UserPresencePayload
		if err := env.Unmarshal(&p); err != nil || p.UserID == "" {
			return nil, false
		}
		return UserOnline{User: wire.OnlineUser{
			UserID:      p.UserID,
			UserName:    p.UserName,
			ConnectedAt: now.UnixMilli(),
		}}, true
	case wire.TypeUserOffline:
		var p wire.UserPresencePayload
		if err := env.Unmarshal(&p); err != nil || p.UserID == "" {
			return nil, false
		}
		return UserOffline{UserID: p.UserID}, true
	case wire.TypeNotification:
		var n wire.Notification
		if err := env.Unmarshal(&n); err != nil || n.ID == "" {
			return nil, false
		}
		return NotificationReceived{Notification: n}, true
	case wire.TypeTypingIndicator:
		var t wire.TypingIndicator
		if err := env.Unmarshal(&t); err != nil || t.UserID == "" || t.ConversationID == "" {
			return nil, false
		}
		t.TargetUserID = ""
		return TypingChanged{Indicator: t}, true
	case wire.TypeRoomReady:
		var r wire.RoomReadyPayload
		if err := env.Unmarshal(&r); err != nil || r.URL == "" {
			return nil, false
		}
		return RoomReady{Room: r}, true
	case wire.TypeRoomEnded:
		var r wire.RoomEndedPayload
		if err := env.Unmarshal(&r); err != nil {
			return nil, false
		}
		return RoomEnded{SessionID: r.SessionID}, true
	default:
		return nil, false
	}
}
