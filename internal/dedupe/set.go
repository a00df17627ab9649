// ABOUTME: Thread-safe seen-set for suppressing duplicate timeline events.
// ABOUTME: Keys live for the process lifetime, with FIFO eviction at a size cap.

package dedupe

import (
	"container/list"
	"sync"
)

// DefaultLimit bounds the set when no explicit limit is given. Sized well
// above what one customer conversation produces, so eviction only matters
// for pathological backfills.
const DefaultLimit = 65536

// Set records keys that have been seen. Unlike a TTL cache, entries never
// age out on their own: delivery suppression has to hold for as long as the
// process runs. A doubly-linked list keeps insertion order for O(1) eviction
// when the size cap is hit.
type Set struct {
	mu    sync.RWMutex
	seen  map[string]*list.Element
	order *list.List // keys in insertion order, oldest at front
	limit int
}

// NewSet creates a seen-set holding up to limit keys. A non-positive limit
// selects DefaultLimit.
func NewSet(limit int) *Set {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Set{
		seen:  make(map[string]*list.Element),
		order: list.New(),
		limit: limit,
	}
}

// Seen reports whether the key has been marked.
func (s *Set) Seen(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[key]
	return ok
}

// CheckAndMark atomically checks whether a key was seen and marks it if not.
// Returns true if the key was already present (duplicate), false if it is
// new and now marked. Atomicity prevents TOCTOU races between concurrent
// deliveries of the same event.
func (s *Set) CheckAndMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[key]; ok {
		return true
	}
	s.markLocked(key)
	return false
}

// Mark records a key without checking it first. Useful for pre-seeding, e.g.
// marking our own outgoing event ids before sync echoes them back.
func (s *Set) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(key)
}

// Len returns the number of tracked keys.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (s *Set) markLocked(key string) {
	if _, ok := s.seen[key]; ok {
		return
	}
	if len(s.seen) >= s.limit {
		s.evictOldest()
	}
	s.seen[key] = s.order.PushBack(key)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (s *Set) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.seen, key)
}
