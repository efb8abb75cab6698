// Package history keeps the last few call outcomes per counter and per agency.
package history

import (
	"sync"

	"github.com/persistorai/queuecall/internal/models"
)

// DefaultSize is the number of entries kept per scope.
const DefaultSize = 4

// Buffer is a bounded, newest-first ring of HistoryEntry per scope.
type Buffer struct {
	mu       sync.RWMutex
	size     int
	counters map[string][]models.HistoryEntry
	agencies map[string][]models.HistoryEntry
}

// NewBuffer creates a Buffer holding size entries per scope. A non-positive
// size falls back to DefaultSize.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}

	return &Buffer{
		size:     size,
		counters: make(map[string][]models.HistoryEntry),
		agencies: make(map[string][]models.HistoryEntry),
	}
}

// Record adds an entry to both the counter's and the agency's ring,
// evicting the oldest when full.
func (b *Buffer) Record(agencyID string, e models.HistoryEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters[e.CounterID] = b.push(b.counters[e.CounterID], e)
	b.agencies[agencyID] = b.push(b.agencies[agencyID], e)
}

func (b *Buffer) push(buf []models.HistoryEntry, e models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, b.size)
	out = append(out, e)

	for _, old := range buf {
		if len(out) == b.size {
			break
		}

		out = append(out, old)
	}

	return out
}

// Counter returns a copy of the counter's entries, newest first.
func (b *Buffer) Counter(counterID string) []models.HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return clone(b.counters[counterID])
}

// Agency returns a copy of the agency's entries, newest first.
func (b *Buffer) Agency(agencyID string) []models.HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return clone(b.agencies[agencyID])
}

// Size returns the per-scope capacity.
func (b *Buffer) Size() int {
	return b.size
}

// clone never returns nil so JSON payloads carry [] rather than null.
func clone(buf []models.HistoryEntry) []models.HistoryEntry {
	out := make([]models.HistoryEntry, len(buf))
	copy(out, buf)

	return out
}
