package testutil

import "sync"

// Sequence is a thread-safe monotonic counter for numbering trace events.
//
// The first call to Next returns 1. Reset rewinds it so the same scenario
// can run twice with identical numbering.
type Sequence struct {
	mu sync.Mutex
	n  int64
}

// Next increments and returns the counter.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

// Current returns the counter without incrementing.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Reset sets the counter back to zero.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n = 0
}
