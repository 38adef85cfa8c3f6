package video

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultRoomCacheTTL is how long a room descriptor is reused without asking the provider.
	DefaultRoomCacheTTL  = 5 * time.Minute
	defaultRoomCacheSize = 1024
)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

type cachedRoom struct {
	room     Room
	deadline time.Time
}

// RoomCache is a bounded, time-expiring projection of provider room descriptors.
// It only saves refetches; a miss always falls through to the provider.
type RoomCache struct {
	lru    *expirable.LRU[string, cachedRoom]
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRoomCache creates a cache holding up to size rooms for at most ttl each.
func NewRoomCache(size int, ttl time.Duration) *RoomCache {
	if size <= 0 {
		size = defaultRoomCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultRoomCacheTTL
	}
	return &RoomCache{
		lru: expirable.NewLRU[string, cachedRoom](size, nil, ttl),
		now: time.Now,
	}
}

// Get returns the cached room. Entries past the room's own expiry are treated as misses.
func (c *RoomCache) Get(name string) (*Room, bool) {
	entry, ok := c.lru.Get(name)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if !entry.deadline.IsZero() && !c.now().Before(entry.deadline) {
		c.lru.Remove(name)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	room := entry.room
	return &room, true
}

// Put stores room under name. A room already past its expiry is not cached.
func (c *RoomCache) Put(name string, room *Room) {
	if room == nil {
		return
	}
	entry := cachedRoom{room: *room, deadline: room.ExpiresAt}
	if !entry.deadline.IsZero() && !c.now().Before(entry.deadline) {
		return
	}
	c.lru.Add(name, entry)
}

// Remove evicts name.
func (c *RoomCache) Remove(name string) {
	c.lru.Remove(name)
}

// Stats returns hit/miss counters and the current entry count.
func (c *RoomCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.lru.Len(),
	}
}
