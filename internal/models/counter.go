package models

import "slices"

// Counter is a physical service point staffed by one operator at a time.
type Counter struct {
	ID                 string   `json:"id"`
	AgencyID           string   `json:"agency_id"`
	Name               string   `json:"name"`
	AssignedServiceIDs []string `json:"assigned_service_ids"`
	CurrentTicketID    string   `json:"current_ticket_id,omitempty"`
	TotalServed        int      `json:"total_served"`
	Active             bool     `json:"active"`
	StaffID            string   `json:"staff_id,omitempty"`
	StaffName          string   `json:"staff_name,omitempty"`
}

// Clone returns a copy that does not share the service slice.
func (c *Counter) Clone() *Counter {
	if c == nil {
		return nil
	}

	out := *c
	out.AssignedServiceIDs = slices.Clone(c.AssignedServiceIDs)

	return &out
}

// SelectServices narrows the assigned services to the requested subset,
// keeping the counter's configured order. An empty request selects all.
func (c *Counter) SelectServices(requested []string) ([]string, error) {
	if len(c.AssignedServiceIDs) == 0 {
		return nil, ErrNoServices
	}

	if len(requested) == 0 {
		return slices.Clone(c.AssignedServiceIDs), nil
	}

	for _, id := range requested {
		if !slices.Contains(c.AssignedServiceIDs, id) {
			return nil, ErrServiceNotAssigned
		}
	}

	out := make([]string, 0, len(requested))
	for _, id := range c.AssignedServiceIDs {
		if slices.Contains(requested, id) {
			out = append(out, id)
		}
	}

	return out, nil
}

// Service is one kind of errand with its own FIFO backlog.
type Service struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Name     string `json:"name"`
}

// Staff is the operator identity attached to a staff console.
type Staff struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Name     string `json:"name"`
}
