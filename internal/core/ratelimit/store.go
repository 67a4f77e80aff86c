// Package ratelimit holds the API rate-limit state shared by every
// client and the countdown shown while requests are being throttled.
package ratelimit

import (
	"sync"
	"time"
)

// Info is the last rate-limit state reported by the API
type Info struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// IsLimited reports whether no requests remain until ResetAt
func (i Info) IsLimited(now time.Time) bool {
	return i.Remaining <= 0 && now.Before(i.ResetAt)
}

// Store is an injectable shared rate-limit state with observers
type Store struct {
	mu   sync.Mutex
	info Info
	set  bool
	subs map[uint64]func(Info, bool)
	next uint64
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{subs: make(map[uint64]func(Info, bool))}
}

// Update replaces the current state and notifies observers
func (s *Store) Update(info Info) {
	s.mu.Lock()
	s.info = info
	s.set = true
	fns := s.observersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(info, true)
	}
}

// Clear forgets the current state and notifies observers
func (s *Store) Clear() {
	s.mu.Lock()
	s.info = Info{}
	s.set = false
	fns := s.observersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(Info{}, false)
	}
}

// Current returns the state and whether any has been reported
func (s *Store) Current() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.set
}

// Subscribe registers fn for every Update and Clear. The returned
// function is idempotent.
func (s *Store) Subscribe(fn func(info Info, ok bool)) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) observersLocked() []func(Info, bool) {
	fns := make([]func(Info, bool), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}
