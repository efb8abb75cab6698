package api

import (
	"context"

	"github.com/persistorai/queuecall/internal/models"
)

// AgencyDirectory lists an agency's counters and services.
type AgencyDirectory interface {
	ListCounters(ctx context.Context, agencyID string) ([]models.Counter, error)
	ListServices(ctx context.Context, agencyID string) ([]models.Service, error)
}

// TicketService issues tickets, reports positions, and accepts ratings.
type TicketService interface {
	IssueTicket(ctx context.Context, agencyID, serviceID string) (*models.TicketPosition, error)
	GetTicket(ctx context.Context, ticketID string) (*models.TicketPosition, error)
	RateTicket(ctx context.Context, ticketID string, req *models.RateTicketRequest) error
}
