package realtime

import (
	"sync"
	"time"
)

// TypingLimiter is a per-user sliding window over relayed typing frames.
type TypingLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

// NewTypingLimiter allows limit frames per interval for each user.
func NewTypingLimiter(limit int, interval time.Duration) *TypingLimiter {
	return &TypingLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

// Allow records an attempt for userID and reports whether it fits the window.
func (l *TypingLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.interval)

	attempts := l.history[userID]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= l.limit {
		l.history[userID] = fresh
		return false
	}
	l.history[userID] = append(fresh, now)
	return true
}

// Forget drops the history of a user, e.g. once their last connection is gone.
func (l *TypingLimiter) Forget(userID string) {
	l.mu.Lock()
	delete(l.history, userID)
	l.mu.Unlock()
}
