package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/models"
)

type mockTicketStore struct {
	getService   func(ctx context.Context, serviceID string) (*models.Service, error)
	getTicket    func(ctx context.Context, ticketID string) (*models.Ticket, error)
	issueTicket  func(ctx context.Context, serviceID string, now time.Time) (*models.Ticket, error)
	waitingAhead func(ctx context.Context, ticketID string) (int, error)
}

func (m *mockTicketStore) GetService(ctx context.Context, serviceID string) (*models.Service, error) {
	return m.getService(ctx, serviceID)
}

func (m *mockTicketStore) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return m.getTicket(ctx, ticketID)
}

func (m *mockTicketStore) IssueTicket(ctx context.Context, serviceID string, now time.Time) (*models.Ticket, error) {
	return m.issueTicket(ctx, serviceID, now)
}

func (m *mockTicketStore) WaitingAhead(ctx context.Context, ticketID string) (int, error) {
	return m.waitingAhead(ctx, ticketID)
}

type mockLive struct {
	mu        sync.Mutex
	refreshed []string
	rated     []string
}

func (m *mockLive) RefreshWaiting(agencyID, serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshed = append(m.refreshed, agencyID+"/"+serviceID)
}

func (m *mockLive) Rated(counterID, ticketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rated = append(m.rated, counterID+"/"+ticketID)
}

type mockEnqueuer struct {
	full   bool
	queued []*models.Rating
}

func (m *mockEnqueuer) Enqueue(r *models.Rating) bool {
	if m.full {
		return false
	}

	m.queued = append(m.queued, r)

	return true
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTicketStore() *mockTicketStore {
	return &mockTicketStore{
		getService: func(_ context.Context, serviceID string) (*models.Service, error) {
			if serviceID != "s1" {
				return nil, models.ErrServiceNotFound
			}

			return &models.Service{ID: "s1", AgencyID: "a1", Name: "Passports"}, nil
		},
		getTicket: func(_ context.Context, ticketID string) (*models.Ticket, error) {
			switch ticketID {
			case "done":
				return &models.Ticket{ID: "done", ServiceID: "s1", CounterID: "c1", Status: models.TicketDone}, nil
			case "waiting":
				return &models.Ticket{ID: "waiting", ServiceID: "s1", Status: models.TicketWaiting, QueueNumber: 7}, nil
			default:
				return nil, models.ErrTicketNotFound
			}
		},
		issueTicket: func(_ context.Context, serviceID string, now time.Time) (*models.Ticket, error) {
			return &models.Ticket{ID: "new", ServiceID: serviceID, QueueNumber: 3, Status: models.TicketWaiting, IssuedAt: now}, nil
		},
		waitingAhead: func(_ context.Context, _ string) (int, error) {
			return 2, nil
		},
	}
}

func newTicketService(st *mockTicketStore) (*TicketService, *mockLive, *mockEnqueuer) {
	live := &mockLive{}
	enq := &mockEnqueuer{}

	return NewTicketService(st, live, enq, clock.NewFake(testNow), testLogger()), live, enq
}

func TestIssueTicket(t *testing.T) {
	svc, live, _ := newTicketService(newTicketStore())

	pos, err := svc.IssueTicket(context.Background(), "a1", "s1")
	if err != nil {
		t.Fatalf("IssueTicket: %v", err)
	}

	if pos.QueueNumber != 3 || pos.WaitingAhead != 2 {
		t.Errorf("got number %d ahead %d, want 3/2", pos.QueueNumber, pos.WaitingAhead)
	}

	if !pos.IssuedAt.Equal(testNow) {
		t.Errorf("IssuedAt = %v, want %v", pos.IssuedAt, testNow)
	}

	if len(live.refreshed) != 1 || live.refreshed[0] != "a1/s1" {
		t.Errorf("refreshed = %v, want [a1/s1]", live.refreshed)
	}
}

func TestIssueTicket_Errors(t *testing.T) {
	tests := []struct {
		name      string
		agencyID  string
		serviceID string
		want      error
	}{
		{"missing service", "a1", "", models.ErrMissingServiceID},
		{"unknown service", "a1", "s9", models.ErrServiceNotFound},
		{"other agency", "a2", "s1", models.ErrServiceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, live, _ := newTicketService(newTicketStore())

			if _, err := svc.IssueTicket(context.Background(), tt.agencyID, tt.serviceID); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}

			if len(live.refreshed) != 0 {
				t.Errorf("refreshed waiting count on error: %v", live.refreshed)
			}
		})
	}
}

func TestGetTicket(t *testing.T) {
	svc, _, _ := newTicketService(newTicketStore())

	pos, err := svc.GetTicket(context.Background(), "waiting")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}

	if pos.QueueNumber != 7 || pos.WaitingAhead != 2 {
		t.Errorf("got %+v", pos)
	}

	if _, err := svc.GetTicket(context.Background(), "nope"); !errors.Is(err, models.ErrTicketNotFound) {
		t.Errorf("err = %v, want ErrTicketNotFound", err)
	}
}

func TestRateTicket(t *testing.T) {
	svc, live, enq := newTicketService(newTicketStore())

	if err := svc.RateTicket(context.Background(), "done", &models.RateTicketRequest{Score: 5, Comment: "quick"}); err != nil {
		t.Fatalf("RateTicket: %v", err)
	}

	if len(enq.queued) != 1 {
		t.Fatalf("queued %d ratings, want 1", len(enq.queued))
	}

	r := enq.queued[0]
	if r.CounterID != "c1" || r.Score != 5 || !r.CreatedAt.Equal(testNow) {
		t.Errorf("rating = %+v", r)
	}

	if len(live.rated) != 1 || live.rated[0] != "c1/done" {
		t.Errorf("rated = %v, want [c1/done]", live.rated)
	}
}

func TestRateTicket_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		ticketID string
		score    int
		full     bool
		want     error
	}{
		{"score too low", "done", 0, false, models.ErrInvalidScore},
		{"score too high", "done", 6, false, models.ErrInvalidScore},
		{"unknown ticket", "nope", 4, false, models.ErrTicketNotFound},
		{"not served", "waiting", 4, false, models.ErrTicketNotRateable},
		{"queue full", "done", 4, true, ErrRatingQueueFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, live, enq := newTicketService(newTicketStore())
			enq.full = tt.full

			err := svc.RateTicket(context.Background(), tt.ticketID, &models.RateTicketRequest{Score: tt.score})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}

			if len(live.rated) != 0 {
				t.Errorf("feedback display notified on rejection: %v", live.rated)
			}
		})
	}
}
