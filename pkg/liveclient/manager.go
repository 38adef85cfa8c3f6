// Package liveclient is the client side of the realtime channel: one shared
// connection per runtime (Manager), a presence projection (Store) and the
// Runtime that ties them to UI surfaces.
package liveclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coachline/backend/pkg/wire"
)

const (
	// DefaultHeartbeatInterval is how often a connected client sends ping.
	DefaultHeartbeatInterval = 25 * time.Second
	defaultDialTimeout       = 10 * time.Second
	inboxSize                = 64
)

// ErrNotConnected is returned by Send when the manager is not in StateConnected.
var ErrNotConnected = errors.New("liveclient: not connected")

// State is the connection state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateConnected
	StateReconnecting
	// StateClosed is terminal for the current identity: auth was rejected.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Identity is the authenticated user the connection speaks for.
type Identity struct {
	UserID   string
	UserName string
	Token    string // JWT passed as ?token= on the upgrade request
}

// Handler receives manager events on the manager's event loop, in arrival order.
type Handler func(Event)

// Config configures a Manager.
type Config struct {
	Endpoint          string // e.g. wss://api.example.com/ws
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	Dialer            Dialer
	Scheduler         Scheduler
	Logger            *zap.Logger
	Now               func() time.Time
}

type subscriber struct {
	id int
	fn Handler
}

// Manager owns the connect/authenticate/heartbeat/reconnect state machine.
// All state transitions run on one event-loop goroutine.
type Manager struct {
	cfg   Config
	log   *zap.Logger
	inbox chan func()
	done  chan struct{}
	once  sync.Once

	// mu guards the fields read outside the loop.
	mu        sync.RWMutex
	state     State
	transport Transport

	// loop-owned
	identity  *Identity
	gen       uint64
	attempts  int
	heartbeat Timer
	reconnect Timer

	subsMu    sync.Mutex
	subs      []subscriber
	nextSubID int
}

// NewManager creates a manager and starts its event loop. Call Shutdown to stop it.
func NewManager(cfg Config) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebSocketDialer{}
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:   cfg,
		log:   log,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	for {
		select {
		case fn := <-m.inbox:
			fn()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) post(fn func()) bool {
	select {
	case m.inbox <- fn:
		return true
	case <-m.done:
		return false
	}
}

// barrier blocks until every previously posted command has run.
func (m *Manager) barrier() {
	ch := make(chan struct{})
	if !m.post(func() { close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-m.done:
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe registers h for every event. Handlers run synchronously on the event
// loop and must not block.
func (m *Manager) Subscribe(h Handler) (unsubscribe func()) {
	m.subsMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, subscriber{id: id, fn: h})
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect opens the shared connection for id. It is a no-op while the same
// identity is already connected or mid-handshake.
func (m *Manager) Connect(id Identity) {
	m.post(func() { m.connect(id) })
}

// Logout closes the connection, forgets the identity and tells subscribers to
// discard local state. No reconnect is scheduled.
func (m *Manager) Logout() {
	m.post(m.logout)
}

// Disconnect closes the transport but keeps the identity, so a later Connect
// resumes the same user.
func (m *Manager) Disconnect() {
	m.post(m.disconnect)
}

// Shutdown stops the manager permanently.
func (m *Manager) Shutdown() {
	m.barrierThen(m.logout)
	m.once.Do(func() { close(m.done) })
}

func (m *Manager) barrierThen(fn func()) {
	ch := make(chan struct{})
	if !m.post(func() { fn(); close(ch) }) {
		return
	}
	select {
	case <-ch:
	case <-m.done:
	}
}

// Send writes an application frame. It fails with ErrNotConnected unless the
// manager is connected.
func (m *Manager) Send(t wire.MessageType, payload interface{}) error {
	m.mu.RLock()
	state, tr := m.state, m.transport
	m.mu.RUnlock()
	if state != StateConnected || tr == nil {
		return ErrNotConnected
	}
	data, err := wire.Encode(t, payload)
	if err != nil {
		return err
	}
	if err := tr.WriteMessage(data); err != nil {
		// The reader goroutine observes the broken transport and drives reconnection.
		_ = tr.Close()
		return fmt.Errorf("send %s: %w", t, err)
	}
	return nil
}

// SendTypingStart tells targetUserID that the current user started typing.
func (m *Manager) SendTypingStart(conversationID, targetUserID string) error {
	return m.Send(wire.TypeTypingStart, wire.TypingActionPayload{ConversationID: conversationID, TargetUserID: targetUserID})
}

// SendTypingStop tells targetUserID that the current user stopped typing.
func (m *Manager) SendTypingStop(conversationID, targetUserID string) error {
	return m.Send(wire.TypeTypingStop, wire.TypingActionPayload{ConversationID: conversationID, TargetUserID: targetUserID})
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if changed {
		m.emit(StatusChanged{State: s})
	}
}

func (m *Manager) setTransport(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

func (m *Manager) emit(ev Event) {
	m.subsMu.Lock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}

func (m *Manager) connect(id Identity) {
	if m.identity != nil && m.identity.UserID == id.UserID {
		m.identity.Token = id.Token
		m.identity.UserName = id.UserName
		switch m.State() {
		case StateConnected, StateConnecting, StateAuthenticating:
			return
		case StateReconnecting:
			m.stopReconnect()
		}
		m.dial()
		return
	}
	if m.identity != nil {
		m.logout()
	}
	ident := id
	m.identity = &ident
	m.attempts = 0
	m.dial()
}

func (m *Manager) endpoint() string {
	u, err := url.Parse(m.cfg.Endpoint)
	if err != nil || m.identity.Token == "" {
		return m.cfg.Endpoint
	}
	q := u.Query()
	q.Set("token", m.identity.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *Manager) dial() {
	m.gen++
	gen := m.gen
	endpoint := m.endpoint()
	m.setState(StateConnecting)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		defer cancel()
		t, err := m.cfg.Dialer.Dial(ctx, endpoint)
		if !m.post(func() { m.opened(gen, t, err) }) && t != nil {
			_ = t.Close()
		}
	}()
}

func (m *Manager) opened(gen uint64, t Transport, err error) {
	if gen != m.gen || m.identity == nil {
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			m.fail("unauthorized")
			return
		}
		m.log.Debug("realtime dial failed", zap.Error(err))
		m.closed(gen)
		return
	}
	m.setTransport(t)
	data, err := wire.Encode(wire.TypeAuth, wire.AuthPayload{UserID: m.identity.UserID, UserName: m.identity.UserName})
	if err == nil {
		err = t.WriteMessage(data)
	}
	if err != nil {
		_ = t.Close()
		m.closed(gen)
		return
	}
	m.setState(StateAuthenticating)
	go m.readLoop(gen, t)
}

func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.post(func() { m.closed(gen) })
			return
		}
		if !m.post(func() { m.frame(gen, data) }) {
			return
		}
	}
}

func (m *Manager) frame(gen uint64, data []byte) {
	if gen != m.gen {
		return
	}
	env, err := wire.Decode(data)
	if err != nil {
		m.log.Debug("dropping malformed realtime frame", zap.Error(err))
		return
	}
	switch env.Type {
	case wire.TypeAuthOK:
		if m.State() != StateAuthenticating {
			return
		}
		m.attempts = 0
		m.setState(StateConnected)
		m.armHeartbeat(gen)
	case wire.TypeAuthError:
		var p wire.AuthErrorPayload
		_ = env.Unmarshal(&p)
		m.fail(p.Reason)
	case wire.TypePong:
	default:
		ev, ok := decodeEvent(env, m.cfg.Now())
		if !ok {
			m.log.Debug("dropping realtime frame", zap.String("type", string(env.Type)))
			return
		}
		m.emit(ev)
	}
}

func (m *Manager) closed(gen uint64) {
	if gen != m.gen {
		return
	}
	m.stopHeartbeat()
	m.closeTransport()
	if m.identity == nil {
		return
	}
	switch m.State() {
	case StateIdle, StateClosed:
		return
	}
	delay := BackoffDelay(m.attempts)
	m.attempts++
	m.setState(StateReconnecting)
	m.stopReconnect()
	m.reconnect = m.cfg.Scheduler.AfterFunc(delay, func() {
		m.post(func() { m.retry(gen) })
	})
	m.log.Debug("realtime reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", m.attempts))
}

func (m *Manager) retry(gen uint64) {
	if gen != m.gen || m.State() != StateReconnecting {
		return
	}
	m.reconnect = nil
	m.dial()
}

func (m *Manager) armHeartbeat(gen uint64) {
	m.stopHeartbeat()
	m.heartbeat = m.cfg.Scheduler.AfterFunc(m.cfg.HeartbeatInterval, func() {
		m.post(func() { m.beat(gen) })
	})
}

func (m *Manager) beat(gen uint64) {
	if gen != m.gen || m.State() != StateConnected {
		return
	}
	m.heartbeat = nil
	m.mu.RLock()
	t := m.transport
	m.mu.RUnlock()
	data, _ := wire.Encode(wire.TypePing, nil)
	if err := t.WriteMessage(data); err != nil {
		_ = t.Close()
		return
	}
	m.armHeartbeat(gen)
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) closeTransport() {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// teardown invalidates in-flight callbacks and releases the transport and timers.
func (m *Manager) teardown() {
	m.gen++
	m.stopHeartbeat()
	m.stopReconnect()
	m.closeTransport()
	m.attempts = 0
}

func (m *Manager) logout() {
	hadIdentity := m.identity != nil
	m.teardown()
	m.identity = nil
	m.setState(StateIdle)
	if hadIdentity {
		m.emit(Reset{})
	}
}

func (m *Manager) disconnect() {
	m.teardown()
	m.setState(StateIdle)
}

func (m *Manager) fail(reason string) {
	m.log.Warn("realtime authentication rejected", zap.String("reason", reason))
	m.teardown()
	m.identity = nil
	m.setState(StateClosed)
	m.emit(Reset{})
}
