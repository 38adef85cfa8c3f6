package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachline/backend/pkg/wire"
)

func testValidator(token string) (string, string, error) {
	if !strings.HasPrefix(token, "tok-") {
		return "", "", errors.New("bad token")
	}
	id := strings.TrimPrefix(token, "tok-")
	return id, "Name " + id, nil
}

func newWsServer(t *testing.T, cfg WsConfig) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, logger, testValidator, cfg))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func writeFrame(t *testing.T, conn *websocket.Conn, typ wire.MessageType, payload interface{}) {
	t.Helper()
	data, err := wire.Encode(typ, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wire.Decode(raw)
	require.NoError(t, err)
	return env
}

// connect dials and completes the auth handshake for userID.
func connect(t *testing.T, url, userID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"?token=tok-"+userID, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	writeFrame(t, conn, wire.TypeAuth, wire.AuthPayload{UserID: userID, UserName: "Name " + userID})
	assert.Equal(t, wire.TypeAuthOK, readFrame(t, conn).Type)
	assert.Equal(t, wire.TypePresenceList, readFrame(t, conn).Type)
	return conn
}

func Test_ServeWsRejectsBadToken(t *testing.T) {
	_, url := newWsServer(t, WsConfig{})

	for _, token := range []string{"", "garbage"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "token %q", token)
	}
}

func Test_ServeWsAuthMismatch(t *testing.T) {
	hub, url := newWsServer(t, WsConfig{})
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=tok-u1", nil)
	require.NoError(t, err)
	defer conn.Close()

	writeFrame(t, conn, wire.TypeAuth, wire.AuthPayload{UserID: "u2"})
	env := readFrame(t, conn)
	assert.Equal(t, wire.TypeAuthError, env.Type)

	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "expected the server to close after auth_error")
	assert.False(t, hub.IsOnline("u1"))
	assert.False(t, hub.IsOnline("u2"))
}

func Test_ServeWsHandshakeAndPing(t *testing.T) {
	hub, url := newWsServer(t, WsConfig{})
	conn := connect(t, url, "u1")

	assert.True(t, hub.IsOnline("u1"))
	writeFrame(t, conn, wire.TypePing, nil)
	assert.Equal(t, wire.TypePong, readFrame(t, conn).Type)
}

func Test_ServeWsTypingRelay(t *testing.T) {
	_, url := newWsServer(t, WsConfig{})
	a := connect(t, url, "u1")
	b := connect(t, url, "u2")
	assert.Equal(t, wire.TypeUserOnline, readFrame(t, a).Type)

	writeFrame(t, a, wire.TypeTypingStart, wire.TypingActionPayload{ConversationID: "c1", TargetUserID: "u2"})
	env := readFrame(t, b)
	require.Equal(t, wire.TypeTypingIndicator, env.Type)
	var ti wire.TypingIndicator
	require.NoError(t, env.Unmarshal(&ti))
	assert.Equal(t, wire.TypingIndicator{UserID: "u1", ConversationID: "c1", IsTyping: true}, ti)

	// the sender id is never taken from the frame
	writeFrame(t, a, wire.TypeTypingIndicator, wire.TypingIndicator{UserID: "spoof", ConversationID: "c1", IsTyping: false, TargetUserID: "u2"})
	env = readFrame(t, b)
	ti = wire.TypingIndicator{}
	require.NoError(t, env.Unmarshal(&ti))
	assert.Equal(t, "u1", ti.UserID)
	assert.False(t, ti.IsTyping)
}

func Test_ServeWsTypingThrottle(t *testing.T) {
	_, url := newWsServer(t, WsConfig{Typing: NewTypingLimiter(1, time.Minute)})
	a := connect(t, url, "u1")
	b := connect(t, url, "u2")
	assert.Equal(t, wire.TypeUserOnline, readFrame(t, a).Type)

	start := wire.TypingActionPayload{ConversationID: "c1", TargetUserID: "u2"}
	writeFrame(t, a, wire.TypeTypingStart, start)
	writeFrame(t, a, wire.TypeTypingStart, start)
	writeFrame(t, a, wire.TypeTypingStop, start)

	var got []bool
	for i := 0; i < 2; i++ {
		var ti wire.TypingIndicator
		require.NoError(t, readFrame(t, b).Unmarshal(&ti))
		got = append(got, ti.IsTyping)
	}
	assert.Equal(t, []bool{true, false}, got, "expected the second start to be dropped and the stop to pass")
}

func Test_ServeWsDisconnectAnnouncesOffline(t *testing.T) {
	hub, url := newWsServer(t, WsConfig{})
	a := connect(t, url, "u1")
	b := connect(t, url, "u2")
	assert.Equal(t, wire.TypeUserOnline, readFrame(t, a).Type)

	require.NoError(t, b.Close())

	env := readFrame(t, a)
	require.Equal(t, wire.TypeUserOffline, env.Type)
	var p wire.UserPresencePayload
	require.NoError(t, env.Unmarshal(&p))
	assert.Equal(t, "u2", p.UserID)
	assert.Eventually(t, func() bool { return !hub.IsOnline("u2") }, time.Second, 10*time.Millisecond)
}
