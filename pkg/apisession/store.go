// Package apisession provides a generic, thread-safe session store for API
// handlers that need per-client state. Clients identify themselves with an
// opaque session ID (typically a UUID generated client-side).
package apisession

import (
	"sync"
	"time"
)

// cleanupInterval is how often Get() triggers lazy eviction of expired entries.
const cleanupInterval = 100

type entry[T any] struct {
	value      *T
	lastAccess time.Time
}

// Store is a typed, thread-safe session store. Each unique session ID maps to
// one instance of T, created on first access via the newFn factory.
type Store[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	ttl      time.Duration
	newFn    func(id string) *T
	onEvict  func(id string, v *T)
	getCalls int

	// Keep, when set, protects matching entries from TTL eviction.
	Keep func(v *T) bool
}

// New creates a Store that evicts sessions inactive longer than ttl.
// newFn is called to initialise state when a session ID is seen for the first time.
// onEvict, if non-nil, runs outside the lock for every entry removed by Delete or Cleanup.
func New[T any](ttl time.Duration, newFn func(id string) *T, onEvict func(id string, v *T)) *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		newFn:   newFn,
		onEvict: onEvict,
	}
}

// Get returns the state for the given session, creating it if needed.
// Each call refreshes the session's last-access timestamp.
func (s *Store[T]) Get(id string) *T {
	s.mu.Lock()

	var evicted map[string]*T
	s.getCalls++
	if s.getCalls%cleanupInterval == 0 {
		evicted = s.cleanupLocked()
	}

	e, ok := s.entries[id]
	if !ok {
		e = &entry[T]{value: s.newFn(id)}
		s.entries[id] = e
	}
	e.lastAccess = time.Now()
	v := e.value
	s.mu.Unlock()

	s.evict(evicted)
	return v
}

// Lookup returns the state for an existing session without creating one.
func (s *Store[T]) Lookup(id string) (*T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	return e.value, true
}

// Delete removes a session. It reports whether the session existed.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if ok {
		s.evict(map[string]*T{id: e.value})
	}
	return ok
}

// Cleanup evicts all sessions that have been inactive longer than the TTL.
func (s *Store[T]) Cleanup() {
	s.mu.Lock()
	evicted := s.cleanupLocked()
	s.mu.Unlock()

	s.evict(evicted)
}

// Close evicts every session.
func (s *Store[T]) Close() {
	s.mu.Lock()
	all := make(map[string]*T, len(s.entries))
	for id, e := range s.entries {
		all[id] = e.value
	}
	s.entries = make(map[string]*entry[T])
	s.mu.Unlock()

	s.evict(all)
}

func (s *Store[T]) cleanupLocked() map[string]*T {
	cutoff := time.Now().Add(-s.ttl)
	var evicted map[string]*T
	for id, e := range s.entries {
		if !e.lastAccess.Before(cutoff) {
			continue
		}
		if s.Keep != nil && s.Keep(e.value) {
			continue
		}
		if evicted == nil {
			evicted = make(map[string]*T)
		}
		evicted[id] = e.value
		delete(s.entries, id)
	}
	return evicted
}

func (s *Store[T]) evict(entries map[string]*T) {
	if s.onEvict == nil {
		return
	}
	for id, v := range entries {
		s.onEvict(id, v)
	}
}

// Len returns the number of active sessions.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
