// Package cache provides the risk-set backends for Turnstile: a Redis store
// shared across nodes and a bounded in-process memo of positive hits.
package cache

import (
	"container/list"
	"sync"
)

// LRUSet is a thread-safe bounded set that evicts its least recently used
// member once full. Membership has no TTL.
type LRUSet struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

// NewLRUSet creates a set holding at most maxSize members.
func NewLRUSet(maxSize int) *LRUSet {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUSet{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Contains reports membership and marks a hit as recently used.
func (s *LRUSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return false
	}
	s.order.MoveToFront(elem)
	return true
}

// Add inserts key, evicting the oldest member if over capacity.
func (s *LRUSet) Add(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.order.MoveToFront(elem)
		return
	}

	s.items[key] = s.order.PushFront(key)

	for s.order.Len() > s.maxSize {
		s.removeOldest()
	}
}

// Reset drops every member.
func (s *LRUSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order = list.New()
}

// Stats returns set statistics.
func (s *LRUSet) Stats() (size int, capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len(), s.maxSize
}

func (s *LRUSet) removeOldest() {
	elem := s.order.Back()
	if elem == nil {
		return
	}
	s.order.Remove(elem)
	delete(s.items, elem.Value.(string))
}
