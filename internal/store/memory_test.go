package store_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/store"
)

const seedYAML = `
services:
  - {id: s1, agency_id: a1, name: Passports}
  - {id: s2, agency_id: a1, name: Licences}
  - {id: s9, agency_id: a2, name: Elsewhere}
counters:
  - {id: c1, agency_id: a1, name: "Counter 1", services: [s1, s2]}
  - {id: c2, agency_id: a1, name: "Counter 2", services: [s2], inactive: true}
staff:
  - {id: u1, agency_id: a1, name: Alice, token: secret-token}
`

var day1 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newSeeded(t *testing.T) *store.Memory {
	t.Helper()

	m := store.NewMemory()
	if err := store.LoadSeed(m, strings.NewReader(seedYAML)); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	return m
}

func issue(t *testing.T, m *store.Memory, serviceID string, at time.Time) *models.Ticket {
	t.Helper()

	tk, err := m.IssueTicket(context.Background(), serviceID, at)
	if err != nil {
		t.Fatalf("IssueTicket(%s): %v", serviceID, err)
	}

	return tk
}

func TestLoadSeed(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	c, err := m.GetCounter(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCounter: %v", err)
	}

	if !c.Active || len(c.AssignedServiceIDs) != 2 || c.AssignedServiceIDs[0] != "s1" {
		t.Errorf("unexpected counter %+v", c)
	}

	c2, _ := m.GetCounter(ctx, "c2")
	if c2.Active {
		t.Error("c2 should be inactive")
	}

	counters, _ := m.ListCounters(ctx, "a1")
	if len(counters) != 2 {
		t.Errorf("expected 2 counters, got %d", len(counters))
	}

	services, _ := m.ListServices(ctx, "a1")
	if len(services) != 2 || services[0].Name != "Licences" {
		t.Errorf("unexpected services %+v", services)
	}

	if _, err := m.GetCounter(ctx, "nope"); !errors.Is(err, models.ErrCounterNotFound) {
		t.Errorf("expected ErrCounterNotFound, got %v", err)
	}
}

func TestLoadSeed_RejectsBadReferences(t *testing.T) {
	tests := map[string]string{
		"unknown service": `
services: [{id: s1, agency_id: a1, name: X}]
counters: [{id: c1, agency_id: a1, name: C, services: [s2]}]`,
		"cross agency": `
services: [{id: s1, agency_id: a2, name: X}]
counters: [{id: c1, agency_id: a1, name: C, services: [s1]}]`,
		"staff without token": `
staff: [{id: u1, agency_id: a1, name: Bob}]`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if err := store.LoadSeed(store.NewMemory(), strings.NewReader(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestIssueTicket_NumbersPerServicePerDay(t *testing.T) {
	m := newSeeded(t)

	a := issue(t, m, "s1", day1)
	b := issue(t, m, "s1", day1)
	c := issue(t, m, "s2", day1)
	d := issue(t, m, "s1", day1.AddDate(0, 0, 1))

	if a.QueueNumber != 1 || b.QueueNumber != 2 {
		t.Errorf("s1 numbers = %d, %d; want 1, 2", a.QueueNumber, b.QueueNumber)
	}

	if c.QueueNumber != 1 {
		t.Errorf("s2 number = %d, want 1", c.QueueNumber)
	}

	if d.QueueNumber != 1 {
		t.Errorf("next-day number = %d, want 1", d.QueueNumber)
	}

	if a.Status != models.TicketWaiting || a.AgencyID != "a1" {
		t.Errorf("unexpected ticket %+v", a)
	}

	if _, err := m.IssueTicket(context.Background(), "missing", day1); !errors.Is(err, models.ErrServiceNotFound) {
		t.Errorf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestClaimNext_FIFO(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	first := issue(t, m, "s1", day1)
	second := issue(t, m, "s1", day1)

	got, err := m.ClaimNext(ctx, "s1", "c1", day1.Add(time.Minute))
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if got.ID != first.ID || got.Status != models.TicketServing || got.CounterID != "c1" || got.CalledAt == nil {
		t.Errorf("unexpected claim %+v", got)
	}

	got, _ = m.ClaimNext(ctx, "s1", "c1", day1)
	if got.ID != second.ID {
		t.Errorf("second claim = %s, want %s", got.ID, second.ID)
	}

	if _, err := m.ClaimNext(ctx, "s1", "c1", day1); !errors.Is(err, models.ErrBacklogEmpty) {
		t.Errorf("expected ErrBacklogEmpty, got %v", err)
	}
}

func TestClaimNext_ConcurrentClaimsAreDistinct(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	const n = 50
	for range n {
		issue(t, m, "s1", day1)
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)

	for i := range n + 10 {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			tk, err := m.ClaimNext(ctx, "s1", "c1", day1)
			if errors.Is(err, models.ErrBacklogEmpty) {
				return
			}

			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if seen[tk.ID] {
				t.Errorf("ticket %s claimed twice", tk.ID)
			}

			seen[tk.ID] = true
		}(i)
	}

	wg.Wait()

	if len(seen) != n {
		t.Errorf("claimed %d tickets, want %d", len(seen), n)
	}
}

func TestReturnToFront(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	first := issue(t, m, "s1", day1)
	issue(t, m, "s1", day1)

	claimed, _ := m.ClaimNext(ctx, "s1", "c1", day1)
	if err := m.ReturnToFront(ctx, claimed.ID); err != nil {
		t.Fatalf("ReturnToFront: %v", err)
	}

	back, _ := m.GetTicket(ctx, first.ID)
	if back.Status != models.TicketWaiting || back.CounterID != "" || back.CalledAt != nil {
		t.Errorf("ticket not reset: %+v", back)
	}

	again, _ := m.ClaimNext(ctx, "s1", "c1", day1)
	if again.ID != first.ID {
		t.Errorf("expected returned ticket at head, got #%d", again.QueueNumber)
	}

	if err := m.ReturnToFront(ctx, "missing"); !errors.Is(err, models.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestWaitingAhead_CountsEarlierDays(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	leftover := issue(t, m, "s1", day1)
	day2 := day1.Add(24 * time.Hour)
	first := issue(t, m, "s1", day2)
	second := issue(t, m, "s1", day2)

	if first.QueueNumber != 1 {
		t.Fatalf("new day numbering starts at %d, want 1", first.QueueNumber)
	}

	if got, _ := m.WaitingAhead(ctx, first.ID); got != 1 {
		t.Errorf("WaitingAhead(day2 #1) = %d, want 1", got)
	}

	if got, _ := m.WaitingAhead(ctx, second.ID); got != 2 {
		t.Errorf("WaitingAhead(day2 #2) = %d, want 2", got)
	}

	next, err := m.ClaimNext(ctx, "s1", "c1", day2)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if next.ID != leftover.ID {
		t.Errorf("claimed #%d, want the earlier day's ticket", next.QueueNumber)
	}

	if got, _ := m.WaitingAhead(ctx, first.ID); got != 0 {
		t.Errorf("after claim WaitingAhead(day2 #1) = %d, want 0", got)
	}
}

func TestWaitingAhead(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	t1 := issue(t, m, "s1", day1)
	t2 := issue(t, m, "s1", day1)
	t3 := issue(t, m, "s1", day1)
	other := issue(t, m, "s2", day1)

	checks := []struct {
		ticket *models.Ticket
		want   int
	}{{t1, 0}, {t2, 1}, {t3, 2}, {other, 0}}

	for _, c := range checks {
		got, err := m.WaitingAhead(ctx, c.ticket.ID)
		if err != nil {
			t.Fatalf("WaitingAhead: %v", err)
		}

		if got != c.want {
			t.Errorf("WaitingAhead(#%d %s) = %d, want %d", c.ticket.QueueNumber, c.ticket.ServiceID, got, c.want)
		}
	}

	if _, err := m.ClaimNext(ctx, "s1", "c1", day1); err != nil {
		t.Fatal(err)
	}

	if got, _ := m.WaitingAhead(ctx, t3.ID); got != 1 {
		t.Errorf("after claim WaitingAhead(t3) = %d, want 1", got)
	}

	if got, _ := m.WaitingAhead(ctx, t1.ID); got != 0 {
		t.Errorf("serving ticket WaitingAhead = %d, want 0", got)
	}

	n, _ := m.CountWaiting(ctx, []string{"s1", "s2"})
	if n != 3 {
		t.Errorf("CountWaiting = %d, want 3", n)
	}
}

func TestFinishTicket_EnforcesTransitions(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	issue(t, m, "s1", day1)
	tk, _ := m.ClaimNext(ctx, "s1", "c1", day1)

	if err := tk.Finish(models.TicketDone, day1); err != nil {
		t.Fatal(err)
	}

	if err := m.FinishTicket(ctx, tk); err != nil {
		t.Fatalf("FinishTicket: %v", err)
	}

	tk.Status = models.TicketMissed
	if err := m.FinishTicket(ctx, tk); err == nil {
		t.Error("expected Done -> Missed to be rejected")
	}
}

func TestStaffAndRatings(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	s, err := m.GetStaffByToken(ctx, "secret-token")
	if err != nil || s.Name != "Alice" {
		t.Fatalf("GetStaffByToken = %+v, %v", s, err)
	}

	if _, err := m.GetStaffByToken(ctx, "wrong"); !errors.Is(err, models.ErrStaffNotFound) {
		t.Errorf("expected ErrStaffNotFound, got %v", err)
	}

	tk := issue(t, m, "s1", day1)
	if err := m.RecordRating(ctx, &models.Rating{TicketID: tk.ID, CounterID: "c1", Score: 5}); err != nil {
		t.Fatalf("RecordRating: %v", err)
	}

	if err := m.RecordRating(ctx, &models.Rating{TicketID: "missing", Score: 5}); !errors.Is(err, models.ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}

	if err := m.RecordRating(ctx, &models.Rating{TicketID: tk.ID, CounterID: "c1", Score: 3}); err != nil {
		t.Fatalf("RecordRating again: %v", err)
	}

	ratings := m.Ratings()
	if len(ratings) != 1 || ratings[0].Score != 3 {
		t.Errorf("ratings = %+v, want one rating with score 3", ratings)
	}
}

func TestSaveCounter(t *testing.T) {
	m := newSeeded(t)
	ctx := context.Background()

	c, _ := m.GetCounter(ctx, "c1")
	c.TotalServed = 3
	c.StaffName = "Alice"
	c.Name = "ignored"

	if err := m.SaveCounter(ctx, c); err != nil {
		t.Fatalf("SaveCounter: %v", err)
	}

	got, _ := m.GetCounter(ctx, "c1")
	if got.TotalServed != 3 || got.StaffName != "Alice" || got.Name != "Counter 1" {
		t.Errorf("unexpected counter after save %+v", got)
	}
}
