package liveclient

import (
	"sync"

	"go.uber.org/zap"
)

// Runtime owns the single Manager and Store of a client process. UI surfaces
// attach to it; the connection stays open while at least one is attached.
type Runtime struct {
	manager *Manager
	store   *Store
	log     *zap.Logger

	mu       sync.Mutex
	identity *Identity
	attached int
	unsub    func()
}

// NewRuntime builds the manager and wires the store to it.
func NewRuntime(cfg Config) *Runtime {
	m := NewManager(cfg)
	s := NewStore()
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runtime{manager: m, store: s, log: log}
	r.unsub = m.Subscribe(func(ev Event) { s.Apply(ev) })
	return r
}

// Manager returns the shared connection manager.
func (r *Runtime) Manager() *Manager { return r.manager }

// Store returns the shared presence store.
func (r *Runtime) Store() *Store { return r.store }

// SignIn records the authenticated identity and connects if a surface is attached.
func (r *Runtime) SignIn(id Identity) {
	r.mu.Lock()
	ident := id
	r.identity = &ident
	attached := r.attached
	r.mu.Unlock()
	if attached > 0 {
		r.manager.Connect(id)
	}
}

// SignOut forgets the identity, closes the connection and clears the store.
func (r *Runtime) SignOut() {
	r.mu.Lock()
	r.identity = nil
	r.mu.Unlock()
	r.manager.Logout()
}

// Attach registers a surface. onEvent, if non-nil, receives every manager event
// (room events included). The first attached surface opens the connection and the
// last detach closes it; the identity is kept so a later Attach resumes it.
func (r *Runtime) Attach(onEvent Handler) (detach func()) {
	var unsub func()
	if onEvent != nil {
		unsub = r.manager.Subscribe(onEvent)
	}

	r.mu.Lock()
	r.attached++
	first := r.attached == 1
	var id *Identity
	if r.identity != nil {
		cp := *r.identity
		id = &cp
	}
	r.mu.Unlock()

	if first && id != nil {
		r.manager.Connect(*id)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if unsub != nil {
				unsub()
			}
			r.mu.Lock()
			r.attached--
			last := r.attached == 0
			r.mu.Unlock()
			if last {
				r.log.Debug("last realtime surface detached")
				r.manager.Disconnect()
			}
		})
	}
}

// Close stops the manager and detaches the store.
func (r *Runtime) Close() {
	r.manager.Shutdown()
	r.unsub()
}
