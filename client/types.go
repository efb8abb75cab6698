package client

import (
	"encoding/json"
	"time"
)

// Ticket statuses.
const (
	StatusWaiting = "Waiting"
	StatusServing = "Serving"
	StatusDone    = "Done"
	StatusMissed  = "Missed"
)

// Counter is a service point as listed by the agency directory.
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

// Service is one errand type with its own backlog.
type Service struct {
	ID       string `json:"id"`
	AgencyID string `json:"agency_id"`
	Name     string `json:"name"`
}

// Ticket is a queue number together with its backlog position.
type Ticket struct {
	ID           string     `json:"id"`
	AgencyID     string     `json:"agency_id"`
	ServiceID    string     `json:"service_id"`
	QueueNumber  int        `json:"queue_number"`
	Status       string     `json:"status"`
	CounterID    string     `json:"counter_id,omitempty"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	WaitingAhead int        `json:"waiting_ahead"`
}

// RatingRequest is the payload for rating a served ticket.
type RatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// HealthResponse is the liveness check payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Database      string  `json:"database"`
	SchemaVersion int     `json:"schema_version"`
	Connections   int     `json:"connections"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// ReadyResponse is the readiness check payload.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Envelope is a frame pushed by the WebSocket gateway.
type Envelope struct {
	Status  string          `json:"status"`
	Kind    string          `json:"kind,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the frame's data object into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// CounterState is the data object of counter display and console frames.
// Update frames carry only the fields that changed.
type CounterState struct {
	CounterID     string         `json:"counterId"`
	CounterName   string         `json:"counterName,omitempty"`
	TicketID      string         `json:"ticketId,omitempty"`
	CurrentNumber *int           `json:"currentNumber,omitempty"`
	StatusTicket  string         `json:"statusTicket,omitempty"`
	CalledAt      *time.Time     `json:"calledAt,omitempty"`
	TotalServed   int            `json:"totalServed"`
	WaitingCount  int            `json:"waitingCount"`
	ServiceName   string         `json:"serviceName,omitempty"`
	ServiceIDs    []string       `json:"serviceIds,omitempty"`
	StaffName     string         `json:"staffName,omitempty"`
	Mode          string         `json:"mode,omitempty"`
	History       []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one ticket that recently left a counter.
type HistoryEntry struct {
	CounterID   string    `json:"counterId"`
	CounterName string    `json:"counter"`
	Number      int       `json:"number"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// Announcement names the ticket a lobby should call out.
type Announcement struct {
	CounterName   string `json:"counterName"`
	CurrentNumber int    `json:"currentNumber"`
}

// LobbyState is the data object of lobby display frames. The call fields
// describe the most recent call still Serving and are null when the agency
// is idle.
type LobbyState struct {
	CounterID     *string        `json:"counterId"`
	CounterName   *string        `json:"counterName"`
	CurrentNumber *int           `json:"currentNumber"`
	CalledAt      *time.Time     `json:"calledAt"`
	History       []HistoryEntry `json:"history"`
	Announce      *Announcement  `json:"announce,omitempty"`
}

// Serving reports whether any counter of the agency is Serving.
func (l *LobbyState) Serving() bool { return l.CurrentNumber != nil }

// CallAction is a staff console command.
type CallAction struct {
	CounterID     string   `json:"counterId"`
	ServiceIDs    []string `json:"serviceIds,omitempty"`
	Action        string   `json:"action"`
	TicketID      string   `json:"ticketId,omitempty"`
	CurrentNumber *int     `json:"currentNumber,omitempty"`
}
