// Package store provides the ticket queue store and counter/service lookups.
//
// Two implementations satisfy Store: Memory, seeded from YAML and used when
// no database is configured, and Postgres. Both keep the backlog claim as the
// single cross-counter critical section, serialized per service.
package store

import (
	"context"
	"time"

	"github.com/persistorai/queuecall/internal/models"
)

const defaultQueryTimeout = 10 * time.Second

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// Store is the persistence surface used by the coordination core.
type Store interface {
	CounterStore
	ServiceStore
	TicketStore
	StaffStore
	RatingStore
}

// CounterStore reads and writes counter state.
type CounterStore interface {
	GetCounter(ctx context.Context, counterID string) (*models.Counter, error)
	ListCounters(ctx context.Context, agencyID string) ([]models.Counter, error)
	SaveCounter(ctx context.Context, c *models.Counter) error
}

// ServiceStore reads service definitions.
type ServiceStore interface {
	GetService(ctx context.Context, serviceID string) (*models.Service, error)
	ListServices(ctx context.Context, agencyID string) ([]models.Service, error)
}

// TicketStore is the ordered per-service backlog plus ticket records.
type TicketStore interface {
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)

	// IssueTicket appends a new Waiting ticket to the service backlog with
	// the next queue number for the service's operating day.
	IssueTicket(ctx context.Context, serviceID string, now time.Time) (*models.Ticket, error)

	// ClaimNext removes the oldest Waiting ticket of the service from the
	// backlog and marks it Serving at counterID in the same critical
	// section. It returns models.ErrBacklogEmpty when nothing is waiting.
	ClaimNext(ctx context.Context, serviceID, counterID string, now time.Time) (*models.Ticket, error)

	// ReturnToFront puts a claimed ticket back at the head of its backlog
	// as Waiting. Used only to undo a claim whose call could not complete.
	ReturnToFront(ctx context.Context, ticketID string) error

	// FinishTicket stores a Done or Missed transition.
	FinishTicket(ctx context.Context, t *models.Ticket) error

	WaitingAhead(ctx context.Context, ticketID string) (int, error)
	CountWaiting(ctx context.Context, serviceIDs []string) (int, error)
}

// StaffStore resolves operator tokens.
type StaffStore interface {
	GetStaffByToken(ctx context.Context, token string) (*models.Staff, error)
}

// RatingStore records post-service feedback.
type RatingStore interface {
	RecordRating(ctx context.Context, r *models.Rating) error
}
