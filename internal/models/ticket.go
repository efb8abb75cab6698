// Package models defines the queue, counter and session data types.
package models

import "time"

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

// Ticket statuses. Done and Missed are terminal.
const (
	TicketWaiting TicketStatus = "Waiting"
	TicketServing TicketStatus = "Serving"
	TicketDone    TicketStatus = "Done"
	TicketMissed  TicketStatus = "Missed"
)

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketDone || s == TicketMissed
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketWaiting, TicketServing, TicketDone, TicketMissed:
		return true
	}

	return false
}

// CanTransition reports whether s -> to is a legal forward step.
func (s TicketStatus) CanTransition(to TicketStatus) bool {
	switch s {
	case TicketWaiting:
		return to == TicketServing
	case TicketServing:
		return to == TicketDone || to == TicketMissed
	}

	return false
}

// Ticket is a single citizen's position in one service backlog.
type Ticket struct {
	ID          string       `json:"id"`
	AgencyID    string       `json:"agency_id"`
	ServiceID   string       `json:"service_id"`
	QueueNumber int          `json:"queue_number"`
	Status      TicketStatus `json:"status"`
	CounterID   string       `json:"counter_id,omitempty"`
	CalledAt    *time.Time   `json:"called_at,omitempty"`
	IssuedAt    time.Time    `json:"issued_at"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
}

// OperatingDay returns the calendar day the ticket's number belongs to.
func (t *Ticket) OperatingDay() string {
	return OperatingDay(t.IssuedAt)
}

// OperatingDay formats the queue-number day for a timestamp.
func OperatingDay(ts time.Time) string {
	return ts.Format(time.DateOnly)
}

// Call moves a Waiting ticket to Serving at the given counter.
func (t *Ticket) Call(counterID string, now time.Time) error {
	if !t.Status.CanTransition(TicketServing) {
		return InvalidTransition(t.Status, TicketServing)
	}

	t.Status = TicketServing
	t.CounterID = counterID
	t.CalledAt = &now

	return nil
}

// Finish moves a Serving ticket to Done or Missed and clears called_at.
func (t *Ticket) Finish(to TicketStatus, now time.Time) error {
	if !to.Terminal() || !t.Status.CanTransition(to) {
		return InvalidTransition(t.Status, to)
	}

	t.Status = to
	t.CalledAt = nil
	t.FinishedAt = &now

	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}

	c := *t
	if t.CalledAt != nil {
		at := *t.CalledAt
		c.CalledAt = &at
	}

	if t.FinishedAt != nil {
		at := *t.FinishedAt
		c.FinishedAt = &at
	}

	return &c
}

// IssueTicketRequest is the payload for the get-number call.
type IssueTicketRequest struct {
	ServiceID string `json:"service_id"`
}

// Validate checks required fields on IssueTicketRequest.
func (r *IssueTicketRequest) Validate() error {
	if r.ServiceID == "" {
		return ErrMissingServiceID
	}

	if len(r.ServiceID) > 255 {
		return ErrFieldTooLong("service_id", 255)
	}

	return nil
}

// TicketPosition is a ticket together with the number of tickets ahead of
// it in its service backlog.
type TicketPosition struct {
	Ticket

	WaitingAhead int `json:"waiting_ahead"`
}
