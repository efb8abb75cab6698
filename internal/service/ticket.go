// Package service provides the ticket operations behind the REST API,
// sitting between handlers, the store, and the live counter state.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/models"
)

// TicketStore is the data-access interface TicketService depends on.
type TicketStore interface {
	GetService(ctx context.Context, serviceID string) (*models.Service, error)
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	IssueTicket(ctx context.Context, serviceID string, now time.Time) (*models.Ticket, error)
	WaitingAhead(ctx context.Context, ticketID string) (int, error)
}

// LiveCounters receives notifications that change what connected consoles
// and displays show.
type LiveCounters interface {
	RefreshWaiting(agencyID, serviceID string)
	Rated(counterID, ticketID string)
}

// RatingEnqueuer queues a rating for asynchronous storage.
type RatingEnqueuer interface {
	Enqueue(r *models.Rating) bool
}

// ErrRatingQueueFull is returned when a rating could not be queued.
var ErrRatingQueueFull = errors.New("rating queue is full")

// TicketService issues tickets, reports queue positions, and accepts ratings.
type TicketService struct {
	store   TicketStore
	live    LiveCounters
	ratings RatingEnqueuer
	clock   clock.Clock
	log     *logrus.Logger
}

// NewTicketService creates a TicketService.
func NewTicketService(store TicketStore, live LiveCounters, ratings RatingEnqueuer, clk clock.Clock, log *logrus.Logger) *TicketService {
	return &TicketService{store: store, live: live, ratings: ratings, clock: clk, log: log}
}

// IssueTicket takes the next number of a service of the agency and pushes
// the new waiting count to the consoles serving it.
func (s *TicketService) IssueTicket(ctx context.Context, agencyID, serviceID string) (*models.TicketPosition, error) {
	if serviceID == "" {
		return nil, models.ErrMissingServiceID
	}

	svc, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	if svc.AgencyID != agencyID {
		return nil, models.ErrServiceNotFound
	}

	t, err := s.store.IssueTicket(ctx, serviceID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("issuing ticket: %w", err)
	}

	s.live.RefreshWaiting(agencyID, serviceID)

	ahead, err := s.store.WaitingAhead(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("counting tickets ahead: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"agency_id":    agencyID,
		"service_id":   serviceID,
		"queue_number": t.QueueNumber,
	}).Info("ticket issued")

	return &models.TicketPosition{Ticket: *t, WaitingAhead: ahead}, nil
}

// GetTicket returns a ticket with its current queue position.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*models.TicketPosition, error) {
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	ahead, err := s.store.WaitingAhead(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("counting tickets ahead: %w", err)
	}

	return &models.TicketPosition{Ticket: *t, WaitingAhead: ahead}, nil
}

// RateTicket queues a rating for a served ticket and closes the rating
// window on the counter's feedback display.
func (s *TicketService) RateTicket(ctx context.Context, ticketID string, req *models.RateTicketRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	if t.Status != models.TicketDone {
		return models.ErrTicketNotRateable
	}

	rating := &models.Rating{
		TicketID:  t.ID,
		CounterID: t.CounterID,
		Score:     req.Score,
		Comment:   req.Comment,
		CreatedAt: s.clock.Now(),
	}

	if !s.ratings.Enqueue(rating) {
		return ErrRatingQueueFull
	}

	s.live.Rated(t.CounterID, t.ID)

	return nil
}
