package zcl

import "sync"

// SequenceSource issues transaction sequence numbers. Values wrap within
// 1..255; 0 is reserved to mean "unassigned" so call sites that pass an
// explicit sequence number can be told apart from ones relying on the
// default. Safe for concurrent use. The owning process injects one source
// wherever sequence numbers are issued rather than sharing package state.
type SequenceSource struct {
	mu   sync.Mutex
	last uint8
}

// Next returns the next sequence number.
func (s *SequenceSource) Next() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	if s.last == 0 {
		s.last = 1
	}
	return s.last
}
