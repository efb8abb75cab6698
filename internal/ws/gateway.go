package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/fanout"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

const joinTimeout = 10 * time.Second

// CounterSessions joins counter-scoped sessions and runs staff commands.
type CounterSessions interface {
	Join(ctx context.Context, s *session.Session, requested []string, ref string) (*session.Session, error)
	Detach(s *session.Session)
	Execute(ctx context.Context, s *session.Session, cmd counter.Command) counter.Result
}

// LobbySessions joins agency-wide lobby displays.
type LobbySessions interface {
	JoinLobby(ctx context.Context, s *session.Session, ref string) error
	Detach(s *session.Session)
}

// StaffValidator resolves a staff token to its operator.
type StaffValidator interface {
	GetStaffByToken(ctx context.Context, token string) (*models.Staff, error)
}

// Gateway resolves client frames into session joins and counter commands.
type Gateway struct {
	counters CounterSessions
	lobby    LobbySessions
	staff    StaffValidator
	log      *logrus.Logger
}

// NewGateway creates a Gateway.
func NewGateway(counters CounterSessions, lobby LobbySessions, staff StaffValidator, log *logrus.Logger) *Gateway {
	return &Gateway{counters: counters, lobby: lobby, staff: staff, log: log}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, frame *protocol.Frame) {
	switch frame.Event {
	case protocol.EventJoinCallScreen:
		var data protocol.JoinCallScreen
		if !decode(c, frame, &data) {
			return
		}

		g.joinCallScreen(ctx, c, frame.Ref, &data)
	case protocol.EventJoinCounterStatusScreen:
		var data protocol.JoinCounterStatusScreen
		if !decode(c, frame, &data) {
			return
		}

		if data.CounterID != "" {
			g.joinCounter(ctx, c, frame.Ref, session.RoleCounterDisplay, data.CounterID)
			return
		}

		g.joinLobby(ctx, c, frame.Ref, data.AgencyID)
	case protocol.EventJoinFeedbackScreen:
		var data protocol.JoinFeedbackScreen
		if !decode(c, frame, &data) {
			return
		}

		g.joinCounter(ctx, c, frame.Ref, session.RoleFeedbackDisplay, data.CounterID)
	case protocol.EventActionCall:
		var data protocol.CallAction
		if !decode(c, frame, &data) {
			return
		}

		g.action(ctx, c, frame.Ref, &data)
	default:
		c.reply(protocol.Reply(protocol.StatusError, frame.Ref, "unknown event "+frame.Event))
	}
}

func decode(c *Client, frame *protocol.Frame, v any) bool {
	if len(frame.Data) == 0 {
		c.reply(protocol.Reply(protocol.StatusError, frame.Ref, "missing data"))
		return false
	}

	if err := json.Unmarshal(frame.Data, v); err != nil {
		c.reply(protocol.Reply(protocol.StatusError, frame.Ref, "malformed data"))
		return false
	}

	return true
}

func (g *Gateway) joinCallScreen(ctx context.Context, c *Client, ref string, data *protocol.JoinCallScreen) {
	if data.CounterID == "" {
		c.reply(protocol.Reply(protocol.StatusError, ref, models.ErrMissingCounterID.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	staff, err := g.staff.GetStaffByToken(ctx, data.Token)
	if err != nil {
		if !errors.Is(err, models.ErrStaffNotFound) {
			g.log.WithError(err).Error("validating staff token")
			c.reply(protocol.Reply(protocol.StatusError, ref, "staff validation unavailable"))

			return
		}

		g.leave(c)
		c.reply(protocol.Reply(protocol.StatusLogout, ref, "invalid staff token"))
		c.Close()

		return
	}

	g.leave(c)

	s := session.New(session.RoleStaffConsole, c)
	s.CounterID = data.CounterID
	s.AgencyID = staff.AgencyID
	s.StaffID = staff.ID
	s.StaffName = staff.Name

	joined, err := g.counters.Join(ctx, s, data.Services(), ref)
	if err != nil {
		g.rejectJoin(c, ref, s, err)
		return
	}

	c.sess = joined
	c.setToken(data.Token)
}

func (g *Gateway) joinCounter(ctx context.Context, c *Client, ref string, role session.Role, counterID string) {
	if counterID == "" {
		c.reply(protocol.Reply(protocol.StatusError, ref, models.ErrMissingCounterID.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	g.leave(c)

	s := session.New(role, c)
	s.CounterID = counterID

	joined, err := g.counters.Join(ctx, s, nil, ref)
	if err != nil {
		g.rejectJoin(c, ref, s, err)
		return
	}

	c.sess = joined
}

func (g *Gateway) joinLobby(ctx context.Context, c *Client, ref, agencyID string) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	g.leave(c)

	s := session.New(session.RoleLobbyDisplay, c)
	s.AgencyID = agencyID

	if err := g.lobby.JoinLobby(ctx, s, ref); err != nil {
		g.rejectJoin(c, ref, s, err)
		return
	}

	c.sess = s
}

func (g *Gateway) rejectJoin(c *Client, ref string, s *session.Session, err error) {
	g.log.WithFields(logrus.Fields{
		"role":       s.Role,
		"counter_id": s.CounterID,
		"agency_id":  s.AgencyID,
	}).WithError(err).Debug("join rejected")

	c.reply(protocol.Reply(protocol.StatusError, ref, err.Error()))
}

func (g *Gateway) action(ctx context.Context, c *Client, ref string, data *protocol.CallAction) {
	s := c.sess
	if s == nil || s.Role != session.RoleStaffConsole {
		c.reply(protocol.Reply(protocol.StatusError, ref, "join a call screen before sending commands"))
		return
	}

	if data.CounterID != "" && data.CounterID != s.CounterID {
		c.reply(protocol.Reply(protocol.StatusError, ref, "session is joined to another counter"))
		return
	}

	res := g.counters.Execute(ctx, s, counter.Command{
		Action:        data.Action,
		ServiceIDs:    data.ServiceIDs,
		TicketID:      data.TicketID,
		CurrentNumber: data.CurrentNumber,
	})

	env := protocol.Reply(res.Status, ref, res.Message)
	if res.State != nil {
		env.Kind = protocol.KindUpdate
		env.Data = fanout.RoleView(res.State, s)

		// done and missed report the ticket they closed.
		if t := res.Ticket; t != nil && t.Status.Terminal() {
			env.Data[protocol.FieldTicketID] = t.ID
			env.Data[protocol.FieldStatusTicket] = t.Status
		}
	}

	c.reply(env)
}

// leave detaches the client's current session, if any.
func (g *Gateway) leave(c *Client) {
	s := c.sess
	if s == nil {
		return
	}

	c.sess = nil
	c.setToken("")

	if s.Role == session.RoleLobbyDisplay {
		g.lobby.Detach(s)
		return
	}

	g.counters.Detach(s)
}
