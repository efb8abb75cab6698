package resolver_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/resolver"
	"github.com/persistorai/queuecall/internal/store"
)

type mockClaimer struct {
	claimFn func(serviceID string) (*models.Ticket, error)
	calls   []string
}

func (m *mockClaimer) ClaimNext(_ context.Context, serviceID, _ string, _ time.Time) (*models.Ticket, error) {
	m.calls = append(m.calls, serviceID)
	return m.claimFn(serviceID)
}

func TestNext_FirstNonEmptyServiceWins(t *testing.T) {
	mc := &mockClaimer{claimFn: func(serviceID string) (*models.Ticket, error) {
		if serviceID == "s2" {
			return &models.Ticket{ID: "t2", ServiceID: "s2"}, nil
		}

		return nil, models.ErrBacklogEmpty
	}}

	got, err := resolver.New(mc).Next(context.Background(), "c1", []string{"s1", "s2", "s3"}, time.Now())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if got.ID != "t2" {
		t.Errorf("got %s, want t2", got.ID)
	}

	if strings.Join(mc.calls, ",") != "s1,s2" {
		t.Errorf("claim order = %v, want s1,s2", mc.calls)
	}
}

func TestNext_AllEmpty(t *testing.T) {
	mc := &mockClaimer{claimFn: func(string) (*models.Ticket, error) { return nil, models.ErrBacklogEmpty }}

	_, err := resolver.New(mc).Next(context.Background(), "c1", []string{"s1", "s2"}, time.Now())
	if !errors.Is(err, models.ErrBacklogEmpty) {
		t.Errorf("expected ErrBacklogEmpty, got %v", err)
	}
}

func TestNext_StoreErrorStops(t *testing.T) {
	boom := errors.New("boom")
	mc := &mockClaimer{claimFn: func(string) (*models.Ticket, error) { return nil, boom }}

	_, err := resolver.New(mc).Next(context.Background(), "c1", []string{"s1", "s2"}, time.Now())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}

	if len(mc.calls) != 1 {
		t.Errorf("expected to stop after first error, made %d calls", len(mc.calls))
	}
}

func TestNext_NoServices(t *testing.T) {
	_, err := resolver.New(&mockClaimer{}).Next(context.Background(), "c1", nil, time.Now())
	if !errors.Is(err, models.ErrNoServices) {
		t.Errorf("expected ErrNoServices, got %v", err)
	}
}

func TestNext_OldestAcrossMemoryBacklog(t *testing.T) {
	m := store.NewMemory()
	m.PutService(models.Service{ID: "s1", AgencyID: "a1"})
	m.PutService(models.Service{ID: "s2", AgencyID: "a1"})

	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	first, _ := m.IssueTicket(ctx, "s2", now)
	_, _ = m.IssueTicket(ctx, "s2", now)

	r := resolver.New(m)

	got, err := r.Next(ctx, "c1", []string{"s1", "s2"}, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}

	if got.ID != first.ID || got.QueueNumber != 1 {
		t.Errorf("expected oldest s2 ticket, got #%d", got.QueueNumber)
	}
}
