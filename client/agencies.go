package client

import (
	"context"
	"net/url"
)

// AgencyService reads the staff-facing agency directory. Requests need a
// staff token (see WithToken) belonging to the agency.
type AgencyService struct {
	c *Client
}

func agencyPath(agencyID, rest string) string {
	return "/api/v1/agencies/" + url.PathEscape(agencyID) + rest
}

// ListCounters returns the agency's counters with their current tickets.
func (s *AgencyService) ListCounters(ctx context.Context, agencyID string) ([]Counter, error) {
	var resp struct {
		Counters []Counter `json:"counters"`
	}
	if err := s.c.get(ctx, agencyPath(agencyID, "/counters"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counters, nil
}

// ListServices returns the services the agency offers.
func (s *AgencyService) ListServices(ctx context.Context, agencyID string) ([]Service, error) {
	var resp struct {
		Services []Service `json:"services"`
	}
	if err := s.c.get(ctx, agencyPath(agencyID, "/services"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Services, nil
}
