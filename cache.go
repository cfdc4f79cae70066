package meshsub

import (
	"time"

	"github.com/outofforest/meshsub/wire"
)

func newSeenCache(ttl time.Duration) *seenCache {
	return &seenCache{
		ttl:  ttl,
		seen: map[wire.MessageID]time.Time{},
	}
}

// seenCache remembers message IDs for ttl after they were seen first.
type seenCache struct {
	ttl  time.Duration
	seen map[wire.MessageID]time.Time
}

// Add marks ID as seen. It returns false if ID has been seen already and has not expired yet.
func (c *seenCache) Add(id wire.MessageID, now time.Time) bool {
	if seenAt, exists := c.seen[id]; exists && now.Sub(seenAt) < c.ttl {
		return false
	}
	c.seen[id] = now
	return true
}

// Prune removes expired IDs.
func (c *seenCache) Prune(now time.Time) {
	for id, seenAt := range c.seen {
		if now.Sub(seenAt) >= c.ttl {
			delete(c.seen, id)
		}
	}
}

func (c *seenCache) Len() int {
	return len(c.seen)
}

func newMessageCache[T any](length, gossip int) *messageCache[T] {
	return &messageCache[T]{
		gossip:  gossip,
		windows: make([][]wire.MessageID, length),
		entries: map[wire.MessageID]T{},
	}
}

// messageCache keeps full messages for a fixed number of heartbeat windows.
// windows[0] is the current one.
type messageCache[T any] struct {
	gossip  int
	windows [][]wire.MessageID
	entries map[wire.MessageID]T
}

// Put stores entry in the current window.
func (c *messageCache[T]) Put(id wire.MessageID, entry T) {
	if _, exists := c.entries[id]; exists {
		return
	}
	c.entries[id] = entry
	c.windows[0] = append(c.windows[0], id)
}

// Shift opens new window and forgets entries of the oldest one.
func (c *messageCache[T]) Shift() {
	last := len(c.windows) - 1
	for _, id := range c.windows[last] {
		delete(c.entries, id)
	}
	copy(c.windows[1:], c.windows[:last])
	c.windows[0] = nil
}

// Get returns entry stored under ID.
func (c *messageCache[T]) Get(id wire.MessageID) (T, bool) {
	entry, exists := c.entries[id]
	return entry, exists
}

// GossipIDs returns IDs stored in the windows gossiped about, the oldest first.
func (c *messageCache[T]) GossipIDs() []wire.MessageID {
	ids := []wire.MessageID{}
	for i := c.gossip - 1; i >= 0; i-- {
		ids = append(ids, c.windows[i]...)
	}
	return ids
}

// Recent returns entries stored in the windows gossiped about, the oldest first.
func (c *messageCache[T]) Recent() []T {
	ids := c.GossipIDs()
	entries := make([]T, 0, len(ids))
	for _, id := range ids {
		if entry, exists := c.Get(id); exists {
			entries = append(entries, entry)
		}
	}
	return entries
}

func (c *messageCache[T]) Len() int {
	return len(c.entries)
}
