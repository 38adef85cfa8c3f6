package liveclient

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/coachline/backend/pkg/wire"
)

var testIdentity = Identity{UserID: "user-1", UserName: "Ada", Token: "tok-1"}

func newTestManager(t *testing.T, d *fakeDialer, s *fakeScheduler) (*Manager, *eventLog) {
	t.Helper()
	m := NewManager(Config{
		Endpoint:  "ws://example.test/ws",
		Dialer:    d,
		Scheduler: s,
		Logger:    zaptest.NewLogger(t),
		Now:       func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	events := &eventLog{}
	m.Subscribe(events.record)
	t.Cleanup(m.Shutdown)
	return m, events
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, time.Second, 5*time.Millisecond,
		"expected manager to reach state %s, got %s", want, m.State())
	m.barrier()
}

func establish(t *testing.T, m *Manager, d *fakeDialer, id Identity) *fakeTransport {
	t.Helper()
	m.Connect(id)
	conn := d.nextConn(t)
	env := conn.nextWrite(t)
	require.Equal(t, wire.TypeAuth, env.Type, "expected the first frame to be auth")
	conn.push(t, wire.TypeAuthOK, nil)
	waitState(t, m, StateConnected)
	return conn
}

func waitReconnectTimer(t *testing.T, s *fakeScheduler, delay time.Duration) *fakeTimer {
	t.Helper()
	var timer *fakeTimer
	require.Eventually(t, func() bool {
		for _, p := range s.pending() {
			if p.d == delay {
				timer = p
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected a reconnect timer of %s", delay)
	return timer
}

func Test_ManagerConnect(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)

	m.Connect(testIdentity)
	conn := d.nextConn(t)

	env := conn.nextWrite(t)
	assert.Equal(t, wire.TypeAuth, env.Type)
	var auth wire.AuthPayload
	require.NoError(t, env.Unmarshal(&auth))
	assert.Equal(t, "user-1", auth.UserID)
	assert.Equal(t, "Ada", auth.UserName)

	waitState(t, m, StateAuthenticating)
	conn.push(t, wire.TypeAuthOK, nil)
	waitState(t, m, StateConnected)

	assert.Equal(t, []State{StateConnecting, StateAuthenticating, StateConnected}, events.states())
	require.Len(t, d.endpoints, 1)
	assert.True(t, strings.HasSuffix(d.endpoints[0], "?token=tok-1"), "expected token on endpoint, got %s", d.endpoints[0])
}

func Test_ManagerConnectIsIdempotent(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, _ := newTestManager(t, d, s)
	establish(t, m, d, testIdentity)

	m.Connect(testIdentity)
	m.Connect(testIdentity)
	m.barrier()

	assert.Equal(t, 1, d.dialCount(), "expected a single dial for a repeated identity")
	assert.Equal(t, StateConnected, m.State())
}

func Test_ManagerSwitchIdentity(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)
	first := establish(t, m, d, testIdentity)

	m.Connect(Identity{UserID: "user-2", UserName: "Grace", Token: "tok-2"})
	second := d.nextConn(t)
	env := second.nextWrite(t)

	var auth wire.AuthPayload
	require.NoError(t, env.Unmarshal(&auth))
	assert.Equal(t, "user-2", auth.UserID)
	assert.True(t, first.isClosed(), "expected the previous transport to be closed")
	assert.Equal(t, 1, events.count(isReset), "expected one reset when switching users")
}

func Test_ManagerHeartbeat(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, _ := newTestManager(t, d, s)
	conn := establish(t, m, d, testIdentity)

	pending := s.pending()
	require.Len(t, pending, 1, "expected one heartbeat timer")
	assert.Equal(t, DefaultHeartbeatInterval, pending[0].d)

	s.fire(pending[0])
	env := conn.nextWrite(t)
	assert.Equal(t, wire.TypePing, env.Type)

	m.barrier()
	pending = s.pending()
	require.Len(t, pending, 1, "expected the heartbeat to be re-armed")
	assert.Equal(t, DefaultHeartbeatInterval, pending[0].d)

	conn.push(t, wire.TypePong, nil)
	m.barrier()
	assert.Equal(t, StateConnected, m.State())
}

func Test_ManagerReconnectBackoff(t *testing.T) {
	refused := errors.New("connection refused")
	d, s := newFakeDialer(refused, refused), &fakeScheduler{}
	m, events := newTestManager(t, d, s)

	m.Connect(testIdentity)
	s.fire(waitReconnectTimer(t, s, time.Second))
	s.fire(waitReconnectTimer(t, s, 2*time.Second))

	conn := d.nextConn(t)
	conn.nextWrite(t)
	conn.push(t, wire.TypeAuthOK, nil)
	waitState(t, m, StateConnected)
	assert.Equal(t, 3, d.dialCount())

	// A drop after a successful auth starts again from the base delay.
	_ = conn.Close()
	waitState(t, m, StateReconnecting)
	timer := waitReconnectTimer(t, s, time.Second)
	for _, p := range s.pending() {
		assert.Equal(t, timer, p, "expected only the reconnect timer to be pending")
	}

	s.fire(timer)
	next := d.nextConn(t)
	next.nextWrite(t)
	next.push(t, wire.TypeAuthOK, nil)
	waitState(t, m, StateConnected)

	assert.Equal(t, 0, events.count(isReset), "transport loss must not reset local state")
}

func Test_ManagerConnectCancelsPendingReconnect(t *testing.T) {
	d, s := newFakeDialer(errors.New("refused")), &fakeScheduler{}
	m, _ := newTestManager(t, d, s)

	m.Connect(testIdentity)
	timer := waitReconnectTimer(t, s, time.Second)

	m.Connect(testIdentity)
	d.nextConn(t)
	m.barrier()

	assert.True(t, timer.stopped, "expected the scheduled retry to be cancelled")
	assert.Equal(t, 2, d.dialCount())
}

func Test_ManagerAuthErrorIsTerminal(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)

	m.Connect(testIdentity)
	conn := d.nextConn(t)
	conn.nextWrite(t)
	conn.push(t, wire.TypeAuthError, wire.AuthErrorPayload{Reason: "identity mismatch"})
	waitState(t, m, StateClosed)

	assert.True(t, conn.isClosed())
	assert.Empty(t, s.pending(), "expected no reconnect after an auth error")
	assert.Equal(t, 1, events.count(isReset))
	assert.Equal(t, 1, d.dialCount())
}

func Test_ManagerUnauthorizedHandshakeIsTerminal(t *testing.T) {
	d, s := newFakeDialer(fmt.Errorf("%w: handshake status 401", ErrUnauthorized)), &fakeScheduler{}
	m, events := newTestManager(t, d, s)

	m.Connect(testIdentity)
	waitState(t, m, StateClosed)

	assert.Empty(t, s.pending())
	assert.Equal(t, 1, events.count(isReset))

	// A fresh sign-in is allowed after a terminal failure.
	m.Connect(testIdentity)
	d.nextConn(t)
	assert.Equal(t, 2, d.dialCount())
}

func Test_ManagerLogout(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)
	conn := establish(t, m, d, testIdentity)

	m.Logout()
	m.barrier()

	assert.Equal(t, StateIdle, m.State())
	assert.True(t, conn.isClosed())
	assert.Empty(t, s.pending(), "expected no timers after logout")
	assert.Equal(t, 1, events.count(isReset))

	// The reader's close notification is stale and must not schedule a retry.
	m.barrier()
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, s.pending())
}

func Test_ManagerDisconnectKeepsIdentity(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)
	establish(t, m, d, testIdentity)

	m.Disconnect()
	m.barrier()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, events.count(isReset))
	assert.Empty(t, s.pending())

	establish(t, m, d, testIdentity)
	assert.Equal(t, 2, d.dialCount())
}

func Test_ManagerSend(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, _ := newTestManager(t, d, s)

	err := m.SendTypingStart("conv-1", "user-2")
	assert.ErrorIs(t, err, ErrNotConnected)

	conn := establish(t, m, d, testIdentity)
	require.NoError(t, m.SendTypingStart("conv-1", "user-2"))

	env := conn.nextWrite(t)
	assert.Equal(t, wire.TypeTypingStart, env.Type)
	var p wire.TypingActionPayload
	require.NoError(t, env.Unmarshal(&p))
	assert.Equal(t, wire.TypingActionPayload{ConversationID: "conv-1", TargetUserID: "user-2"}, p)

	require.NoError(t, m.SendTypingStop("conv-1", "user-2"))
	assert.Equal(t, wire.TypeTypingStop, conn.nextWrite(t).Type)
}

func Test_ManagerDecodesEvents(t *testing.T) {
	d, s := newFakeDialer(), &fakeScheduler{}
	m, events := newTestManager(t, d, s)
	conn := establish(t, m, d, testIdentity)

	conn.push(t, wire.TypePresenceList, wire.PresenceListPayload{Users: []wire.OnlineUser{
		{UserID: "user-1", UserName: "Ada", ConnectedAt: 1},
		{UserID: "", UserName: "ghost"},
	}})
	conn.push(t, wire.TypeUserOnline, wire.UserPresencePayload{UserID: "user-2", UserName: "Grace"})
	conn.push(t, "bogus", nil)
	conn.push(t, wire.TypeNotification, wire.Notification{Title: "missing id"})
	conn.push(t, wire.TypeNotification, wire.Notification{ID: "n-1", Title: "Session booked"})
	conn.push(t, wire.TypeTypingIndicator, wire.TypingIndicator{UserID: "user-2", ConversationID: "c-1", IsTyping: true, TargetUserID: "user-1"})
	conn.push(t, wire.TypeRoomReady, wire.RoomReadyPayload{SessionID: 7, URL: "https://example.daily.co/room", RoomName: "room"})
	conn.push(t, wire.TypeRoomEnded, wire.RoomEndedPayload{SessionID: 7})

	domain := func() []Event {
		var out []Event
		for _, ev := range events.all() {
			if _, ok := ev.(StatusChanged); !ok {
				out = append(out, ev)
			}
		}
		return out
	}
	require.Eventually(t, func() bool { return len(domain()) == 6 }, time.Second, 5*time.Millisecond)

	got := domain()
	assert.Equal(t, PresenceList{Users: []wire.OnlineUser{{UserID: "user-1", UserName: "Ada", ConnectedAt: 1}}}, got[0])
	assert.Equal(t, UserOnline{User: wire.OnlineUser{UserID: "user-2", UserName: "Grace", ConnectedAt: 1_700_000_000_000}}, got[1])
	assert.Equal(t, NotificationReceived{Notification: wire.Notification{ID: "n-1", Title: "Session booked"}}, got[2])
	assert.Equal(t, TypingChanged{Indicator: wire.TypingIndicator{UserID: "user-2", ConversationID: "c-1", IsTyping: true}}, got[3])
	assert.Equal(t, RoomReady{Room: wire.RoomReadyPayload{SessionID: 7, URL: "https://example.daily.co/room", RoomName: "room"}}, got[4])
	assert.Equal(t, RoomEnded{SessionID: 7}, got[5])
}

func Test_StateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
