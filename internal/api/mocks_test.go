package api_test

import (
	"context"

	"github.com/persistorai/queuecall/internal/models"
)

// mockDirectory implements api.AgencyDirectory for testing.
type mockDirectory struct {
	listCountersFn func(ctx context.Context, agencyID string) ([]models.Counter, error)
	listServicesFn func(ctx context.Context, agencyID string) ([]models.Service, error)
}

func (m *mockDirectory) ListCounters(ctx context.Context, agencyID string) ([]models.Counter, error) {
	return m.listCountersFn(ctx, agencyID)
}

func (m *mockDirectory) ListServices(ctx context.Context, agencyID string) ([]models.Service, error) {
	return m.listServicesFn(ctx, agencyID)
}

// mockTickets implements api.TicketService for testing.
type mockTickets struct {
	issueFn func(ctx context.Context, agencyID, serviceID string) (*models.TicketPosition, error)
	getFn   func(ctx context.Context, ticketID string) (*models.TicketPosition, error)
	rateFn  func(ctx context.Context, ticketID string, req *models.RateTicketRequest) error
}

func (m *mockTickets) IssueTicket(ctx context.Context, agencyID, serviceID string) (*models.TicketPosition, error) {
	return m.issueFn(ctx, agencyID, serviceID)
}

func (m *mockTickets) GetTicket(ctx context.Context, ticketID string) (*models.TicketPosition, error) {
	return m.getFn(ctx, ticketID)
}

func (m *mockTickets) RateTicket(ctx context.Context, ticketID string, req *models.RateTicketRequest) error {
	return m.rateFn(ctx, ticketID, req)
}
