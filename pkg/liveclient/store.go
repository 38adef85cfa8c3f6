package liveclient

import (
	"sync"

	"github.com/coachline/backend/pkg/wire"
)

// MaxNotifications caps the in-memory notification list.
const MaxNotifications = 50

// TypingKey identifies one typing indicator.
type TypingKey struct {
	UserID         string
	ConversationID string
}

// Snapshot is an immutable copy of the store's state handed to listeners.
type Snapshot struct {
	Connected     bool
	State         State
	OnlineUsers   []wire.OnlineUser
	Notifications []wire.Notification
	Typing        map[TypingKey]wire.TypingIndicator
}

// OnlineCount is the number of distinct online users.
func (s Snapshot) OnlineCount() int { return len(s.OnlineUsers) }

// UnreadCount is the number of held notifications.
func (s Snapshot) UnreadCount() int { return len(s.Notifications) }

// Listener is notified synchronously after each state mutation.
type Listener func(Snapshot)

// Store is the reactive presence projection of manager events.
type Store struct {
	mu            sync.RWMutex
	state         State
	online        []wire.OnlineUser
	notifications []wire.Notification
	typing        map[TypingKey]wire.TypingIndicator

	lmu       sync.Mutex
	listeners map[int]Listener
	order     []int
	nextID    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		typing:    make(map[TypingKey]wire.TypingIndicator),
		listeners: make(map[int]Listener),
	}
}

// Subscribe adds l; the returned func removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			delete(s.listeners, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Apply reduces one manager event into the store. It reports whether the state
// changed; each change notifies every listener exactly once.
func (s *Store) Apply(ev Event) bool {
	s.mu.Lock()
	changed := s.reduce(ev)
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

func (s *Store) reduce(ev Event) bool {
	switch e := ev.(type) {
	case StatusChanged:
		if s.state == e.State {
			return false
		}
		s.state = e.State
		return true
	case Reset:
		s.online = nil
		s.notifications = nil
		s.typing = make(map[TypingKey]wire.TypingIndicator)
		return true
	case PresenceList:
		s.online = dedupeUsers(e.Users)
		return true
	case UserOnline:
		if s.indexOf(e.User.UserID) >= 0 {
			return false
		}
		s.online = append(s.online, e.User)
		return true
	case UserOffline:
		i := s.indexOf(e.UserID)
		if i < 0 {
			return false
		}
		s.online = append(s.online[:i:i], s.online[i+1:]...)
		return true
	case NotificationReceived:
		list := make([]wire.Notification, 0, len(s.notifications)+1)
		list = append(list, e.Notification)
		list = append(list, s.notifications...)
		if len(list) > MaxNotifications {
			list = list[:MaxNotifications]
		}
		s.notifications = list
		return true
	case TypingChanged:
		key := TypingKey{UserID: e.Indicator.UserID, ConversationID: e.Indicator.ConversationID}
		if e.Indicator.IsTyping {
			s.typing[key] = e.Indicator
			return true
		}
		if _, ok := s.typing[key]; !ok {
			return false
		}
		delete(s.typing, key)
		return true
	default:
		// Room events are routed to the UI, not the projection.
		return false
	}
}

func (s *Store) indexOf(userID string) int {
	for i, u := range s.online {
		if u.UserID == userID {
			return i
		}
	}
	return -1
}

func dedupeUsers(users []wire.OnlineUser) []wire.OnlineUser {
	seen := make(map[string]struct{}, len(users))
	out := make([]wire.OnlineUser, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u.UserID]; ok {
			continue
		}
		seen[u.UserID] = struct{}{}
		out = append(out, u)
	}
	return out
}

// ClearNotification drops one notification locally.
func (s *Store) ClearNotification(id string) bool {
	s.mu.Lock()
	changed := false
	for i, n := range s.notifications {
		if n.ID == id {
			s.notifications = append(s.notifications[:i:i], s.notifications[i+1:]...)
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
	return changed
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Connected:     s.state == StateConnected,
		State:         s.state,
		OnlineUsers:   append([]wire.OnlineUser(nil), s.online...),
		Notifications: append([]wire.Notification(nil), s.notifications...),
		Typing:        make(map[TypingKey]wire.TypingIndicator, len(s.typing)),
	}
	for k, v := range s.typing {
		snap.Typing[k] = v
	}
	return snap
}

// IsOnline reports whether userID is in the online set.
func (s *Store) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(userID) >= 0
}

// Typing returns the indicator for (userID, conversationID); ok is false when
// the user is not typing.
func (s *Store) Typing(userID, conversationID string) (wire.TypingIndicator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.typing[TypingKey{UserID: userID, ConversationID: conversationID}]
	return t, ok
}

func (s *Store) notify() {
	snap := s.Snapshot()
	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		ls = append(ls, s.listeners[id])
	}
	s.lmu.Unlock()
	for _, l := range ls {
		l(snap)
	}
}
