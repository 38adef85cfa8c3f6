package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/coachline/backend/pkg/wire"
)

const (
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	authWait     = 10 * time.Second
	maxFrameSize = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// TokenValidator resolves a bearer token to the user it was issued for.
type TokenValidator func(token string) (userID, userName string, err error)

// WsConfig tunes the connection pumps.
type WsConfig struct {
	SendBuffer int
	// Typing limits relayed typing_start frames per sender. Nil disables throttling.
	Typing *TypingLimiter
}

// client is one authenticated socket bound to a hub handle.
type client struct {
	userID   string
	userName string
	hub      *Hub
	handle   *Conn
	conn     *websocket.Conn
	typing   *TypingLimiter
	logger   *zap.Logger
	leave    func()
}

// ServeWs upgrades GET /ws?token=... and runs the client loop. The first frame must be an auth
// frame for the token's user.
func ServeWs(hub *Hub, logger *zap.Logger, validate TokenValidator, cfg WsConfig) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		userID, userName, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn.SetReadLimit(maxFrameSize)

		name, ok := awaitAuth(conn, userID, logger)
		if !ok {
			_ = conn.Close()
			return
		}
		if userName == "" {
			userName = name
		}

		cl := &client{
			userID:   userID,
			userName: userName,
			hub:      hub,
			handle:   NewConn(cfg.SendBuffer),
			conn:     conn,
			typing:   cfg.Typing,
			logger:   logger.With(zap.String("user_id", userID)),
		}
		if data, err := wire.Encode(wire.TypeAuthOK, nil); err == nil {
			cl.handle.Enqueue(data)
		}
		cl.leave = hub.Register(userID, userName, cl.handle)
		go cl.writePump()
		cl.readPump()
	}
}

// awaitAuth reads the handshake frame. On rejection it answers auth_error itself, since no writer
// goroutine runs yet.
func awaitAuth(conn *websocket.Conn, userID string, logger *zap.Logger) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		logger.Debug("no auth frame", zap.Error(err))
		return "", false
	}
	env, err := wire.Decode(raw)
	if err != nil || env.Type != wire.TypeAuth {
		rejectAuth(conn, "expected auth frame")
		return "", false
	}
	var p wire.AuthPayload
	if err := env.Unmarshal(&p); err != nil || p.UserID != userID {
		logger.Warn("auth identity mismatch", zap.String("user_id", userID), zap.String("claimed_user_id", p.UserID))
		rejectAuth(conn, "identity does not match token")
		return "", false
	}
	return p.UserName, true
}

func rejectAuth(conn *websocket.Conn, reason string) {
	data, err := wire.Encode(wire.TypeAuthError, wire.AuthErrorPayload{Reason: reason})
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
}

func (c *client) readPump() {
	defer func() {
		c.leave()
		_ = c.conn.Close()
		if c.typing != nil && !c.hub.IsOnline(c.userID) {
			c.typing.Forget(c.userID)
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		env, err := wire.Decode(raw)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *client) dispatch(env wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		data, err := wire.Encode(wire.TypePong, nil)
		if err == nil && !c.handle.Enqueue(data) {
			c.leave()
		}
	case wire.TypeTypingStart, wire.TypeTypingStop:
		var p wire.TypingActionPayload
		if err := env.Unmarshal(&p); err != nil {
			c.logger.Debug("dropping malformed typing frame", zap.Error(err))
			return
		}
		c.relayTyping(p.TargetUserID, p.ConversationID, env.Type == wire.TypeTypingStart)
	case wire.TypeTypingIndicator:
		var p wire.TypingIndicator
		if err := env.Unmarshal(&p); err != nil {
			c.logger.Debug("dropping malformed typing frame", zap.Error(err))
			return
		}
		c.relayTyping(p.TargetUserID, p.ConversationID, p.IsTyping)
	default:
		c.logger.Debug("ignoring client frame", zap.String("type", string(env.Type)))
	}
}

// relayTyping forwards a typing change to its target. The sender id always comes from the
// authenticated connection.
func (c *client) relayTyping(target, conversationID string, isTyping bool) {
	if target == "" || conversationID == "" || target == c.userID {
		return
	}
	if isTyping && c.typing != nil && !c.typing.Allow(c.userID) {
		return
	}
	c.hub.SendToUsers([]string{target}, wire.TypeTypingIndicator, wire.TypingIndicator{
		UserID:         c.userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		c.leave()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.handle.Send():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.handle.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
