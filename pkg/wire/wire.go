// Package wire defines the duplex message envelope shared by the realtime server and its clients.
package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType is the type tag carried by every envelope.
type MessageType string

const (
	TypeAuth            MessageType = "auth"
	TypeAuthOK          MessageType = "auth_ok"
	TypeAuthError       MessageType = "auth_error"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
	TypePresenceList    MessageType = "presence_list"
	TypeUserOnline      MessageType = "user_online"
	TypeUserOffline     MessageType = "user_offline"
	TypeNotification    MessageType = "notification"
	TypeTypingIndicator MessageType = "typing_indicator"
	TypeTypingStart     MessageType = "typing_start"
	TypeTypingStop      MessageType = "typing_stop"
	TypeRoomReady       MessageType = "video:room-ready"
	TypeRoomEnded       MessageType = "video:room-ended"
)

// Envelope is the WebSocket message envelope used in both directions.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload is sent by the client right after the transport opens.
type AuthPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// AuthErrorPayload tells the client its identity was rejected and it must not reconnect.
type AuthErrorPayload struct {
	Reason string `json:"reason"`
}

// OnlineUser is one entry of the presence set.
type OnlineUser struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	ConnectedAt int64  `json:"connectedAt"` // unix millis
}

// PresenceListPayload carries the full online set.
type PresenceListPayload struct {
	Users []OnlineUser `json:"users"`
}

// UserPresencePayload is used by user_online and user_offline.
type UserPresencePayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// Notification is a realtime notification pushed to a user.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// TypingIndicator reports whether a user is typing in a conversation.
type TypingIndicator struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	// TargetUserID is only set on client->server frames.
	TargetUserID string `json:"targetUserId,omitempty"`
}

// TypingActionPayload is the payload of typing_start and typing_stop.
type TypingActionPayload struct {
	ConversationID string `json:"conversationId"`
	TargetUserID   string `json:"targetUserId"`
}

// RoomReadyPayload announces a freshly created video room to the counterpart.
type RoomReadyPayload struct {
	SessionID int64  `json:"sessionId"`
	URL       string `json:"url"`
	RoomName  string `json:"roomName"`
}

// RoomEndedPayload announces that the host ended the session video.
type RoomEndedPayload struct {
	SessionID int64 `json:"sessionId"`
}

// Encode marshals payload into an envelope of the given type.
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a raw frame into an envelope. Frames without a type are rejected.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing message type")
	}
	return env, nil
}

// Unmarshal decodes the envelope payload into v. An empty payload decodes as {}.
func (e Envelope) Unmarshal(v interface{}) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}
