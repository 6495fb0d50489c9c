// ABOUTME: Bounded recently-seen message-id set guarding against transport redelivery
// ABOUTME: FIFO eviction keeps memory flat across long-lived connections

package timeline

import (
	"container/list"
	"sync"
	"time"
)

// seenEntry records when an id was last observed, plus its position in the
// eviction order.
type seenEntry struct {
	at      time.Time
	element *list.Element
}

// seenSet tracks message ids observed on the live transport within a recent
// window. A reconnecting transport may redeliver messages buffered on the
// server side; the set lets the merger drop those before touching any
// conversation state, including conversations that have since been cleared.
type seenSet struct {
	mu      sync.Mutex
	ids     map[string]*seenEntry
	order   *list.List // ids in observation order, oldest at front
	ttl     time.Duration
	maxSize int
}

// newSeenSet creates a set holding at most maxSize ids for at most ttl.
// There is no background sweeper; expired entries are collected whenever a
// new id is recorded.
func newSeenSet(ttl time.Duration, maxSize int) *seenSet {
	return &seenSet{
		ids:     make(map[string]*seenEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// observe records id and reports whether it was already present and fresh.
// The check and the mark are one atomic step.
func (s *seenSet) observe(id string) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.ids[id]; ok && now.Sub(entry.at) < s.ttl {
		entry.at = now
		s.order.MoveToBack(entry.element)
		return true
	}

	s.sweepLocked(now)

	if len(s.ids) >= s.maxSize {
		s.evictOldestLocked()
	}

	elem := s.order.PushBack(id)
	s.ids[id] = &seenEntry{at: now, element: elem}
	return false
}

// sweepLocked drops expired entries from the front of the order list.
// Entries are in observation order, so the scan stops at the first fresh one.
func (s *seenSet) sweepLocked(now time.Time) {
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		id, _ := front.Value.(string)
		entry := s.ids[id]
		if entry == nil || now.Sub(entry.at) < s.ttl {
			return
		}
		s.order.Remove(front)
		delete(s.ids, id)
	}
}

// evictOldestLocked removes the single oldest entry to make room.
func (s *seenSet) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.ids, id)
}
