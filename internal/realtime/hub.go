package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coachline/backend/pkg/wire"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 256

// Conn is one registered connection handle. The hub enqueues encoded frames on it; the owner
// drains Send until Done is closed.
type Conn struct {
	id     string
	userID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewConn creates a handle with the given outbound buffer.
func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		id:   uuid.NewString(),
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID identifies the handle.
func (c *Conn) ID() string { return c.id }

// Send yields frames in enqueue order.
func (c *Conn) Send() <-chan []byte { return c.send }

// Done is closed when the handle is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Enqueue queues an encoded frame without blocking. It fails when the handle is torn down or
// its buffer is full.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

type presence struct {
	name        string
	connectedAt time.Time
	conns       map[string]*Conn
}

// Hub is the process-local registry of open connections keyed by user. Delivery is
// best-effort and at-most-once: users without an open connection miss the message.
type Hub struct {
	mu     sync.RWMutex
	users  map[string]*presence
	logger *zap.Logger
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[string]*presence),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds c for userID and queues the current presence_list on it. The first handle of a
// user announces user_online to everyone else. The returned func deregisters c; it is idempotent.
func (h *Hub) Register(userID, userName string, c *Conn) (deregister func()) {
	c.userID = userID

	h.mu.Lock()
	p, ok := h.users[userID]
	first := !ok
	if first {
		p = &presence{name: userName, connectedAt: h.now(), conns: make(map[string]*Conn)}
		h.users[userID] = p
	}
	p.conns[c.id] = c

	var failed []*Conn
	if data, err := wire.Encode(wire.TypePresenceList, wire.PresenceListPayload{Users: h.snapshotLocked()}); err == nil {
		if !c.Enqueue(data) {
			failed = append(failed, c)
		}
	}
	if first {
		data, err := wire.Encode(wire.TypeUserOnline, wire.UserPresencePayload{UserID: userID, UserName: userName})
		if err == nil {
			_, f := h.deliverLocked(h.othersLocked(userID), data)
			failed = append(failed, f...)
		}
	}
	h.mu.Unlock()

	h.dropAll(failed)
	h.logger.Debug("connection registered", zap.String("user_id", userID), zap.String("conn_id", c.id), zap.Bool("first", first))

	var once sync.Once
	return func() { once.Do(func() { h.remove(c) }) }
}

// remove tears c down; the user's last handle announces user_offline.
func (h *Hub) remove(c *Conn) {
	c.shutdown()

	h.mu.Lock()
	p, ok := h.users[c.userID]
	if !ok || p.conns[c.id] != c {
		h.mu.Unlock()
		return
	}
	delete(p.conns, c.id)
	last := len(p.conns) == 0
	var failed []*Conn
	if last {
		delete(h.users, c.userID)
		data, err := wire.Encode(wire.TypeUserOffline, wire.UserPresencePayload{UserID: c.userID})
		if err == nil {
			_, failed = h.deliverLocked(h.othersLocked(c.userID), data)
		}
	}
	h.mu.Unlock()

	h.dropAll(failed)
	h.logger.Debug("connection removed", zap.String("user_id", c.userID), zap.String("conn_id", c.id), zap.Bool("last", last))
}

func (h *Hub) dropAll(conns []*Conn) {
	for _, c := range conns {
		h.logger.Warn("dropping slow connection", zap.String("user_id", c.userID), zap.String("conn_id", c.id))
		h.remove(c)
	}
}

// SendToUsers serializes once and enqueues on every open handle of each listed user. It returns
// the number of handles written. A handle that cannot take the frame is torn down.
func (h *Hub) SendToUsers(userIDs []string, t wire.MessageType, payload interface{}) int {
	data, err := wire.Encode(t, payload)
	if err != nil {
		h.logger.Error("encode realtime message", zap.String("type", string(t)), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	n, failed := h.deliverLocked(userIDs, data)
	h.mu.RUnlock()
	h.dropAll(failed)
	return n
}

// deliverLocked must be called with h.mu held (read or write).
func (h *Hub) deliverLocked(userIDs []string, data []byte) (int, []*Conn) {
	var failed []*Conn
	n := 0
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p, ok := h.users[id]
		if !ok {
			continue
		}
		for _, c := range p.conns {
			if c.Enqueue(data) {
				n++
			} else {
				failed = append(failed, c)
			}
		}
	}
	return n, failed
}

func (h *Hub) othersLocked(userID string) []string {
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// PresenceSnapshot returns the distinct online users, oldest connection first.
func (h *Hub) PresenceSnapshot() []wire.OnlineUser {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []wire.OnlineUser {
	users := make([]wire.OnlineUser, 0, len(h.users))
	for id, p := range h.users {
		users = append(users, wire.OnlineUser{UserID: id, UserName: p.name, ConnectedAt: p.connectedAt.UnixMilli()})
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].ConnectedAt != users[j].ConnectedAt {
			return users[i].ConnectedAt < users[j].ConnectedAt
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

// IsOnline reports whether userID holds at least one open handle.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// ConnectionCount returns the number of open handles of userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if p, ok := h.users[userID]; ok {
		return len(p.conns)
	}
	return 0
}
