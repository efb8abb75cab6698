package fanout

import (
	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

// counterFields is the view shared by staff consoles and counter displays.
// Ticket fields are always present so a merge clears a finished ticket.
func counterFields(st *counter.State) protocol.Fields {
	f := protocol.Fields{
		protocol.FieldCounterID:     st.Counter.ID,
		protocol.FieldCounterName:   st.Counter.Name,
		protocol.FieldTotalServed:   st.Counter.TotalServed,
		protocol.FieldHistory:       st.History,
		protocol.FieldStaffName:     st.Counter.StaffName,
		protocol.FieldCurrentNumber: nil,
		protocol.FieldStatusTicket:  nil,
		protocol.FieldTicketID:      nil,
		protocol.FieldCalledAt:      nil,
		protocol.FieldServiceName:   nil,
	}

	if t := st.Current; t != nil {
		f[protocol.FieldCurrentNumber] = t.QueueNumber
		f[protocol.FieldStatusTicket] = t.Status
		f[protocol.FieldTicketID] = t.ID
		f[protocol.FieldCalledAt] = t.CalledAt
		f[protocol.FieldServiceName] = st.ServiceName
	}

	return f
}

// RoleView is the counter view a session of s's role receives. Command
// replies use it so the issuing console sees what its broadcast carries.
func RoleView(st *counter.State, s *session.Session) protocol.Fields {
	return roleFields(st, s)
}

// roleFields specializes the counter view for one session.
func roleFields(st *counter.State, s *session.Session) protocol.Fields {
	switch s.Role {
	case session.RoleStaffConsole:
		f := counterFields(st)
		f[protocol.FieldWaitingCount] = st.WaitingCount
		f[protocol.FieldServiceIDs] = s.ServiceIDs

		return f
	case session.RoleFeedbackDisplay:
		return feedbackFields(st)
	default:
		return counterFields(st)
	}
}

func feedbackFields(st *counter.State) protocol.Fields {
	f := protocol.Fields{
		protocol.FieldMode:        st.Feedback.Mode,
		protocol.FieldCounterID:   st.Counter.ID,
		protocol.FieldCounterName: st.Counter.Name,
		protocol.FieldStaffName:   st.Counter.StaffName,
	}

	if t := st.Feedback.Ticket; t != nil {
		f[protocol.FieldTicketID] = t.ID
		f[protocol.FieldCurrentNumber] = t.QueueNumber
		f[protocol.FieldServiceName] = st.Feedback.ServiceName
	}

	return f
}

// marquee is the lobby headline for one Serving ticket.
type marquee struct {
	CounterID   string
	CounterName string
	Number      int
	Ticket      *models.Ticket
}

// lobbyFields puts the most recent call at the top level. The call fields
// are null when nothing is Serving.
func lobbyFields(head *marquee, hist []models.HistoryEntry) protocol.Fields {
	f := protocol.Fields{
		protocol.FieldCounterID:     nil,
		protocol.FieldCounterName:   nil,
		protocol.FieldCurrentNumber: nil,
		protocol.FieldCalledAt:      nil,
		protocol.FieldHistory:       hist,
	}

	if head != nil {
		f[protocol.FieldCounterID] = head.CounterID
		f[protocol.FieldCounterName] = head.CounterName
		f[protocol.FieldCurrentNumber] = head.Number
		f[protocol.FieldCalledAt] = head.Ticket.CalledAt
	}

	return f
}
