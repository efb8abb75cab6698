// Package session tracks which display or console role is attached to which
// counter or agency, independently of the transport connection.
package session

import (
	"slices"

	"github.com/google/uuid"
)

// Role is the logical surface a session renders.
type Role string

// Session roles.
const (
	RoleStaffConsole    Role = "staff_console"
	RoleCounterDisplay  Role = "counter_display"
	RoleLobbyDisplay    Role = "lobby_display"
	RoleFeedbackDisplay Role = "feedback_display"
)

// Roles lists every role, in metric label order.
var Roles = []Role{RoleStaffConsole, RoleCounterDisplay, RoleLobbyDisplay, RoleFeedbackDisplay}

// Sink is the outbound side of a transport connection. Deliver must not
// block; it returns false when the message was dropped. Close ends the
// connection after pending messages are flushed.
type Sink interface {
	Deliver(msg []byte) bool
	Close()
}

// Session is one (re)join of a connection in a role. It is immutable once
// added to a Registry.
type Session struct {
	ID         string
	Role       Role
	AgencyID   string
	CounterID  string
	StaffID    string
	StaffName  string
	ServiceIDs []string

	sink Sink
}

// New creates a session with a fresh id.
func New(role Role, sink Sink) *Session {
	return &Session{
		ID:   uuid.New().String(),
		Role: role,
		sink: sink,
	}
}

// Deliver hands msg to the connection without blocking.
func (s *Session) Deliver(msg []byte) bool {
	if s.sink == nil {
		return false
	}

	return s.sink.Deliver(msg)
}

// Close ends the underlying connection.
func (s *Session) Close() {
	if s.sink != nil {
		s.sink.Close()
	}
}

// CounterScoped reports whether the session is bound to a single counter.
func (s *Session) CounterScoped() bool {
	return s.Role != RoleLobbyDisplay
}

// WithServices returns a copy of s carrying the selected services.
func (s *Session) WithServices(ids []string) *Session {
	c := *s
	c.ServiceIDs = slices.Clone(ids)

	return &c
}
