package protocol

import (
	"sync"
	"sync/atomic"
)

// CounterScope is the sequence scope shared by a counter's sessions.
func CounterScope(counterID string) string {
	return "counter:" + counterID
}

// AgencyScope is the sequence scope of an agency's lobby displays.
func AgencyScope(agencyID string) string {
	return "agency:" + agencyID
}

// Sequence tracks monotonic message numbers per scope.
type Sequence struct {
	mu       sync.Mutex
	counters map[string]*atomic.Uint64
}

// NewSequence creates a new Sequence.
func NewSequence() *Sequence {
	return &Sequence{
		counters: make(map[string]*atomic.Uint64),
	}
}

func (s *Sequence) counter(scope string) *atomic.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[scope]
	if !ok {
		c = &atomic.Uint64{}
		s.counters[scope] = c
	}

	return c
}

// Next returns the next sequence number for a scope.
func (s *Sequence) Next(scope string) uint64 {
	return s.counter(scope).Add(1)
}

// Current returns the last number handed out for a scope. Snapshots carry
// it so clients can discard updates they have already seen.
func (s *Sequence) Current(scope string) uint64 {
	return s.counter(scope).Load()
}
