// Package counter runs one serialized command loop per counter. The loop
// owns the counter's current ticket, its staff attachment, and the timers
// that act on them, and it is the only writer of those fields.
package counter

import (
	"time"

	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

// ChangeKind names what a published Change did.
type ChangeKind string

// Change kinds.
const (
	ChangeCalled        ChangeKind = "called"
	ChangeRecalled      ChangeKind = "recalled"
	ChangeFinished      ChangeKind = "finished"
	ChangeStaff         ChangeKind = "staff"
	ChangeWaiting       ChangeKind = "waiting"
	ChangeAdvertisement ChangeKind = "advertisement"
)

// Feedback is what the counter's feedback display should show.
type Feedback struct {
	Mode        string         `json:"mode"`
	Ticket      *models.Ticket `json:"ticket,omitempty"`
	ServiceName string         `json:"serviceName,omitempty"`
}

// State is a complete view of one counter, as sent in join snapshots.
type State struct {
	Counter       models.Counter        `json:"counter"`
	Current       *models.Ticket        `json:"current,omitempty"`
	ServiceName   string                `json:"serviceName,omitempty"`
	History       []models.HistoryEntry `json:"history"`
	AgencyHistory []models.HistoryEntry `json:"agencyHistory"`
	WaitingCount  int                   `json:"waitingCount"`
	Feedback      Feedback              `json:"feedback"`
}

// Change is a counter mutation together with the state it produced.
// Finished is set for ChangeFinished only.
type Change struct {
	State

	Kind     ChangeKind     `json:"kind"`
	At       time.Time      `json:"at"`
	Finished *models.Ticket `json:"finished,omitempty"`
}

// Publisher turns counter state into frames for subscribed sessions. It is
// called from the counter's command loop, so calls for one counter arrive
// in command order. Implementations must not block.
type Publisher interface {
	Publish(ch *Change)
	Snapshot(s *session.Session, st *State, ref string)
	Logout(s *session.Session, message string)

	// ApplyRemote delivers a change made by the instance that owns the
	// counter, without relaying it again.
	ApplyRemote(ch *Change)
}

// Command is a staff console action.
type Command struct {
	Action        string
	ServiceIDs    []string
	TicketID      string
	CurrentNumber *int
}

// Result is the acknowledgement returned to the issuing console. State is
// set on update results and holds the counter after the command.
type Result struct {
	Status  protocol.Status
	Message string
	Ticket  *models.Ticket
	State   *State
}

func updated(t *models.Ticket, st *State) Result {
	return Result{Status: protocol.StatusUpdate, Ticket: t, State: st}
}

func empty() Result {
	return Result{Status: protocol.StatusEmpty}
}

func failure(msg string) Result {
	return Result{Status: protocol.StatusError, Message: msg}
}
