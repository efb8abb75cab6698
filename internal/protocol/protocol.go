// Package protocol defines the JSON frames exchanged with console and
// display clients over the WebSocket gateway.
package protocol

import (
	"encoding/json"
	"slices"
)

// Status is the outcome carried by every server frame.
type Status string

// Frame statuses.
const (
	StatusSuccess Status = "success"
	StatusEmpty   Status = "empty"
	StatusUpdate  Status = "update"
	StatusError   Status = "error"
	StatusLogout  Status = "logout"
)

// Kind tells a client which part of its view an update touches.
type Kind string

// Frame kinds.
const (
	KindSnapshot      Kind = "snapshot"
	KindUpdate        Kind = "update"
	KindHistory       Kind = "history"
	KindWaiting       Kind = "waiting"
	KindFeedback      Kind = "feedback"
	KindAdvertisement Kind = "advertisement"
	KindShutdown      Kind = "shutdown"
)

// Client events.
const (
	EventJoinCallScreen          = "join_call_screen"
	EventJoinCounterStatusScreen = "join_counter_status_screen"
	EventJoinFeedbackScreen      = "join_feedback_screen"
	EventActionCall              = "action:call"
)

// Staff console actions carried by action:call.
const (
	ActionCall         = "call"
	ActionRecall       = "recall"
	ActionDone         = "done"
	ActionMissed       = "missed"
	ActionLeaveCounter = "leaveCounter"
)

// Payload field names.
const (
	FieldCounterID     = "counterId"
	FieldCounterName   = "counterName"
	FieldCurrentNumber = "currentNumber"
	FieldStatusTicket  = "statusTicket"
	FieldTicketID      = "ticketId"
	FieldCalledAt      = "calledAt"
	FieldTotalServed   = "totalServed"
	FieldWaitingCount  = "waitingCount"
	FieldHistory       = "history"
	FieldServiceName   = "serviceName"
	FieldServiceIDs    = "serviceIds"
	FieldStaffName     = "staffName"
	FieldMode          = "mode"
	FieldAnnounce      = "announce"
)

// Feedback display modes.
const (
	ModeService       = "service"
	ModeRating        = "rating"
	ModeMissed        = "missed"
	ModeAdvertisement = "advertisement"
)

// Fields is the data object of a server frame.
type Fields map[string]any

// Envelope is a server-to-client frame.
type Envelope struct {
	Status  Status `json:"status"`
	Kind    Kind   `json:"kind,omitempty"`
	Ref     string `json:"ref,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Message string `json:"message,omitempty"`
	Data    Fields `json:"data,omitempty"`
}

// Encode marshals the envelope. Field values are plain JSON types, so a
// marshal failure degrades to a bare error frame.
func (e *Envelope) Encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"status":"error","message":"internal encoding error"}`)
	}

	return b
}

// Reply builds a command or join acknowledgement.
func Reply(status Status, ref, message string) *Envelope {
	return &Envelope{Status: status, Ref: ref, Message: message}
}

// Shutdown is sent to every connection when the server drains.
func Shutdown() *Envelope {
	return &Envelope{Status: StatusUpdate, Kind: KindShutdown, Message: "server shutting down"}
}

// Frame is a client-to-server message.
type Frame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinCallScreen attaches a staff console to a counter. Either ServiceID or
// ServiceIDs narrows the services the console calls from.
type JoinCallScreen struct {
	CounterID  string   `json:"counterId"`
	ServiceID  string   `json:"serviceId,omitempty"`
	ServiceIDs []string `json:"serviceIds,omitempty"`
	Token      string   `json:"token"`
}

// Services merges the single- and multi-service forms.
func (j *JoinCallScreen) Services() []string {
	out := slices.Clone(j.ServiceIDs)
	if j.ServiceID != "" && !slices.Contains(out, j.ServiceID) {
		out = append([]string{j.ServiceID}, out...)
	}

	return out
}

// JoinCounterStatusScreen attaches a counter display when CounterID is set,
// otherwise a lobby display for AgencyID.
type JoinCounterStatusScreen struct {
	CounterID string `json:"counterId,omitempty"`
	AgencyID  string `json:"agencyId,omitempty"`
}

// JoinFeedbackScreen attaches a feedback display to a counter.
type JoinFeedbackScreen struct {
	CounterID string `json:"counterId"`
}

// CallAction is a staff console command.
type CallAction struct {
	CounterID     string   `json:"counterId"`
	ServiceIDs    []string `json:"serviceIds,omitempty"`
	Action        string   `json:"action"`
	TicketID      string   `json:"ticketId,omitempty"`
	CurrentNumber *int     `json:"currentNumber,omitempty"`
}
