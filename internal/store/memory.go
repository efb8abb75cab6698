package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/persistorai/queuecall/internal/models"
)

// backlog is one service's FIFO of Waiting ticket ids. Its mutex is the
// per-service critical section for issuance and claims.
type backlog struct {
	mu  sync.Mutex
	ids []string
	seq map[string]int // operating day -> last issued number
}

// Memory is an in-process Store. Lock order is backlog.mu before Memory.mu.
type Memory struct {
	mu       sync.RWMutex
	counters map[string]*models.Counter
	services map[string]*models.Service
	staff    map[string]*models.Staff // token hash -> staff
	tickets  map[string]*models.Ticket
	ratings  []models.Rating
	backlogs map[string]*backlog
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]*models.Counter),
		services: make(map[string]*models.Service),
		staff:    make(map[string]*models.Staff),
		tickets:  make(map[string]*models.Ticket),
		backlogs: make(map[string]*backlog),
	}
}

// hashToken returns a hex-encoded SHA-256 hash so raw tokens are never kept.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// PutService adds or replaces a service definition.
func (m *Memory) PutService(s models.Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.services[s.ID] = &s
	if _, ok := m.backlogs[s.ID]; !ok {
		m.backlogs[s.ID] = &backlog{seq: make(map[string]int)}
	}
}

// PutCounter adds or replaces a counter definition.
func (m *Memory) PutCounter(c models.Counter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[c.ID] = c.Clone()
}

// PutStaff registers an operator under the given raw token.
func (m *Memory) PutStaff(s models.Staff, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.staff[hashToken(token)] = &s
}

// GetCounter returns a copy of the counter.
func (m *Memory) GetCounter(_ context.Context, counterID string) (*models.Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.counters[counterID]
	if !ok {
		return nil, models.ErrCounterNotFound
	}

	return c.Clone(), nil
}

// ListCounters returns the agency's counters ordered by name.
func (m *Memory) ListCounters(_ context.Context, agencyID string) ([]models.Counter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Counter, 0)
	for _, c := range m.counters {
		if c.AgencyID == agencyID {
			out = append(out, *c.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// SaveCounter stores the mutable counter fields.
func (m *Memory) SaveCounter(_ context.Context, c *models.Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.counters[c.ID]
	if !ok {
		return models.ErrCounterNotFound
	}

	cur.CurrentTicketID = c.CurrentTicketID
	cur.TotalServed = c.TotalServed
	cur.StaffID = c.StaffID
	cur.StaffName = c.StaffName

	return nil
}

// GetService returns a copy of the service.
func (m *Memory) GetService(_ context.Context, serviceID string) (*models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[serviceID]
	if !ok {
		return nil, models.ErrServiceNotFound
	}

	out := *s

	return &out, nil
}

// ListServices returns the agency's services ordered by name.
func (m *Memory) ListServices(_ context.Context, agencyID string) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Service, 0)
	for _, s := range m.services {
		if s.AgencyID == agencyID {
			out = append(out, *s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

// GetTicket returns a copy of the ticket.
func (m *Memory) GetTicket(_ context.Context, ticketID string) (*models.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tickets[ticketID]
	if !ok {
		return nil, models.ErrTicketNotFound
	}

	return t.Clone(), nil
}

func (m *Memory) backlogFor(serviceID string) (*backlog, *models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[serviceID]
	if !ok {
		return nil, nil, models.ErrServiceNotFound
	}

	return m.backlogs[serviceID], s, nil
}

// IssueTicket appends a Waiting ticket to the service backlog.
func (m *Memory) IssueTicket(_ context.Context, serviceID string, now time.Time) (*models.Ticket, error) {
	b, svc, err := m.backlogFor(serviceID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	day := models.OperatingDay(now)
	b.seq[day]++

	t := &models.Ticket{
		ID:          uuid.New().String(),
		AgencyID:    svc.AgencyID,
		ServiceID:   serviceID,
		QueueNumber: b.seq[day],
		Status:      models.TicketWaiting,
		IssuedAt:    now,
	}

	m.mu.Lock()
	m.tickets[t.ID] = t
	m.mu.Unlock()

	b.ids = append(b.ids, t.ID)

	return t.Clone(), nil
}

// ClaimNext pops the backlog head and marks it Serving under the service lock.
func (m *Memory) ClaimNext(_ context.Context, serviceID, counterID string, now time.Time) (*models.Ticket, error) {
	b, _, err := m.backlogFor(serviceID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ids) == 0 {
		return nil, models.ErrBacklogEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tickets[b.ids[0]]
	if !ok {
		return nil, fmt.Errorf("backlog of %s references unknown ticket %s", serviceID, b.ids[0])
	}

	if err := t.Call(counterID, now); err != nil {
		return nil, err
	}

	b.ids = b.ids[1:]

	return t.Clone(), nil
}

// ReturnToFront undoes a claim.
func (m *Memory) ReturnToFront(_ context.Context, ticketID string) error {
	m.mu.RLock()
	t, ok := m.tickets[ticketID]
	var serviceID string
	if ok {
		serviceID = t.ServiceID
	}
	m.mu.RUnlock()

	if !ok {
		return models.ErrTicketNotFound
	}

	b, _, err := m.backlogFor(serviceID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Status != models.TicketServing {
		return models.InvalidTransition(t.Status, models.TicketWaiting)
	}

	t.Status = models.TicketWaiting
	t.CounterID = ""
	t.CalledAt = nil
	b.ids = slices.Insert(b.ids, 0, t.ID)

	return nil
}

// FinishTicket stores a terminal transition.
func (m *Memory) FinishTicket(_ context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tickets[t.ID]
	if !ok {
		return models.ErrTicketNotFound
	}

	if !cur.Status.CanTransition(t.Status) {
		return models.InvalidTransition(cur.Status, t.Status)
	}

	m.tickets[t.ID] = t.Clone()

	return nil
}

// WaitingAhead counts the Waiting tickets queued before ticketID in its
// service backlog, whatever their operating day.
func (m *Memory) WaitingAhead(_ context.Context, ticketID string) (int, error) {
	m.mu.RLock()
	t, ok := m.tickets[ticketID]
	var target models.Ticket
	if ok {
		target = *t
	}
	m.mu.RUnlock()

	if !ok {
		return 0, models.ErrTicketNotFound
	}

	if target.Status != models.TicketWaiting {
		return 0, nil
	}

	b, _, err := m.backlogFor(target.ServiceID)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	ahead := 0
	for _, id := range b.ids {
		if id == ticketID {
			break
		}

		if other := m.tickets[id]; other.Status == models.TicketWaiting {
			ahead++
		}
	}

	return ahead, nil
}

// CountWaiting sums the backlog lengths of the given services.
func (m *Memory) CountWaiting(_ context.Context, serviceIDs []string) (int, error) {
	total := 0
	for _, id := range serviceIDs {
		b, _, err := m.backlogFor(id)
		if err != nil {
			return 0, err
		}

		b.mu.Lock()
		total += len(b.ids)
		b.mu.Unlock()
	}

	return total, nil
}

// GetStaffByToken resolves an operator token.
func (m *Memory) GetStaffByToken(_ context.Context, token string) (*models.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.staff[hashToken(token)]
	if !ok {
		return nil, models.ErrStaffNotFound
	}

	out := *s

	return &out, nil
}

// RecordRating stores a rating, replacing an earlier one for the ticket.
func (m *Memory) RecordRating(_ context.Context, r *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tickets[r.TicketID]; !ok {
		return models.ErrTicketNotFound
	}

	for i := range m.ratings {
		if m.ratings[i].TicketID == r.TicketID {
			m.ratings[i] = *r
			return nil
		}
	}

	m.ratings = append(m.ratings, *r)

	return nil
}

// Ratings returns a copy of the recorded ratings.
func (m *Memory) Ratings() []models.Rating {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.ratings)
}
