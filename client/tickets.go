package client

import (
	"context"
	"net/url"
)

// TicketService issues, looks up and rates tickets.
type TicketService struct {
	c *Client
}

// Issue takes the next number in a service backlog. Needs a staff token.
func (s *TicketService) Issue(ctx context.Context, agencyID, serviceID string) (*Ticket, error) {
	body := map[string]string{"service_id": serviceID}
	var t Ticket
	if err := s.c.post(ctx, agencyPath(agencyID, "/tickets"), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Get returns a ticket and how many tickets are ahead of it.
func (s *TicketService) Get(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	if err := s.c.get(ctx, "/api/v1/tickets/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Rate submits a score for a served ticket. The server stores it
// asynchronously and answers 202.
func (s *TicketService) Rate(ctx context.Context, id string, req *RatingRequest) error {
	return s.c.post(ctx, "/api/v1/tickets/"+url.PathEscape(id)+"/rating", req, nil)
}
