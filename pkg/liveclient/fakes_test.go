package liveclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coachline/backend/pkg/wire"
)

var errFakeClosed = errors.New("fake transport closed")

type fakeTransport struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, errFakeClosed
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.closed:
		return errFakeClosed
	default:
	}
	t.out <- data
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) push(tb testing.TB, mt wire.MessageType, payload interface{}) {
	tb.Helper()
	data, err := wire.Encode(mt, payload)
	if err != nil {
		tb.Fatalf("encode %s: %v", mt, err)
	}
	t.in <- data
}

func (t *fakeTransport) nextWrite(tb testing.TB) wire.Envelope {
	tb.Helper()
	select {
	case data := <-t.out:
		env, err := wire.Decode(data)
		if err != nil {
			tb.Fatalf("decode written frame: %v", err)
		}
		return env
	case <-time.After(time.Second):
		tb.Fatal("expected a frame to be written, but none was")
		return wire.Envelope{}
	}
}

type fakeDialer struct {
	mu        sync.Mutex
	errs      []error
	endpoints []string
	conns     chan *fakeTransport
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{errs: errs, conns: make(chan *fakeTransport, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Transport, error) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	var err error
	if len(d.errs) > 0 {
		err, d.errs = d.errs[0], d.errs[1:]
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	t := newFakeTransport()
	d.conns <- t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

func (d *fakeDialer) nextConn(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-d.conns:
		return t
	case <-time.After(time.Second):
		tb.Fatal("expected a dial, but none happened")
		return nil
	}
}

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire(t *fakeTimer) {
	s.mu.Lock()
	if t.stopped || t.fired {
		s.mu.Unlock()
		return
	}
	t.fired = true
	s.mu.Unlock()
	t.f()
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) states() []State {
	var out []State
	for _, ev := range l.all() {
		if sc, ok := ev.(StatusChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func (l *eventLog) count(match func(Event) bool) int {
	n := 0
	for _, ev := range l.all() {
		if match(ev) {
			n++
		}
	}
	return n
}

func isReset(ev Event) bool {
	_, ok := ev.(Reset)
	return ok
}
