// Package lease implements counter ownership leases: a Redis backend for
// instances sharing a database, and an in-process table for tests and
// single-binary deployments.
package lease

import (
	"context"
	"sync"
	"time"

	"github.com/persistorai/queuecall/internal/clock"
)

// Table is an in-process lease table shared by several holders.
type Table struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]entry
}

type entry struct {
	holder string
	until  time.Time
}

// NewTable creates a Table whose leases last ttl on clk.
func NewTable(clk clock.Clock, ttl time.Duration) *Table {
	return &Table{clock: clk, ttl: ttl, entries: make(map[string]entry)}
}

// Holder returns the lease handle of one instance.
func (t *Table) Holder(name string) *Memory {
	return &Memory{table: t, holder: name}
}

// Memory is one holder's view of a Table.
type Memory struct {
	table  *Table
	holder string
}

// Acquire takes the lease when it is free, expired, or already ours.
func (m *Memory) Acquire(_ context.Context, counterID string) (bool, error) {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if e, ok := t.entries[counterID]; ok && e.holder != m.holder && now.Before(e.until) {
		return false, nil
	}

	t.entries[counterID] = entry{holder: m.holder, until: now.Add(t.ttl)}

	return true, nil
}

// Renew extends an unexpired lease held by m.
func (m *Memory) Renew(_ context.Context, counterID string) (bool, error) {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	e, ok := t.entries[counterID]
	if !ok || e.holder != m.holder || !now.Before(e.until) {
		return false, nil
	}

	t.entries[counterID] = entry{holder: m.holder, until: now.Add(t.ttl)}

	return true, nil
}

// Release frees the lease if m holds it.
func (m *Memory) Release(_ context.Context, counterID string) error {
	t := m.table
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[counterID]; ok && e.holder == m.holder {
		delete(t.entries, counterID)
	}

	return nil
}

// TTL returns the lease duration.
func (m *Memory) TTL() time.Duration { return m.table.ttl }
