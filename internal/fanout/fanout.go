// Package fanout turns counter changes into role-specific frames and
// delivers them to the sessions subscribed to each scope.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/counter"
	"github.com/persistorai/queuecall/internal/history"
	"github.com/persistorai/queuecall/internal/metrics"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

// LobbySource loads the Serving tickets of an agency the first time a lobby
// display joins it.
type LobbySource interface {
	ListCounters(ctx context.Context, agencyID string) ([]models.Counter, error)
	GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
}

// Relay forwards changes to other server instances.
type Relay interface {
	Send(ch *counter.Change)
}

// lobby tracks the Serving tickets of one agency.
type lobby struct {
	seeded  bool
	serving map[string]*marquee
}

// head returns the most recently called ticket still Serving.
func (l *lobby) head() *marquee {
	var best *marquee

	for _, m := range l.serving {
		if best == nil || m.Ticket.CalledAt.After(*best.Ticket.CalledAt) {
			best = m
		}
	}

	return best
}

// Fanout implements counter.Publisher.
type Fanout struct {
	registry *session.Registry
	history  *history.Buffer
	source   LobbySource
	seq      *protocol.Sequence
	log      *logrus.Logger

	relayMu sync.RWMutex
	relay   Relay

	// mu serializes lobby joins with lobby deliveries.
	mu      sync.Mutex
	lobbies map[string]*lobby
}

// New creates a Fanout.
func New(reg *session.Registry, hist *history.Buffer, source LobbySource, log *logrus.Logger) *Fanout {
	return &Fanout{
		registry: reg,
		history:  hist,
		source:   source,
		seq:      protocol.NewSequence(),
		log:      log,
		lobbies:  make(map[string]*lobby),
	}
}

// SetRelay enables cross-instance forwarding of published changes.
func (f *Fanout) SetRelay(r Relay) {
	f.relayMu.Lock()
	defer f.relayMu.Unlock()

	f.relay = r
}

// Publish delivers a local change and forwards it to other instances.
func (f *Fanout) Publish(ch *counter.Change) {
	f.deliver(ch)

	f.relayMu.RLock()
	r := f.relay
	f.relayMu.RUnlock()

	if r != nil {
		r.Send(ch)
	}
}

// ApplyRemote delivers a change received from another instance.
func (f *Fanout) ApplyRemote(ch *counter.Change) {
	f.deliver(ch)
}

func (f *Fanout) deliver(ch *counter.Change) {
	f.deliverCounter(ch)

	switch ch.Kind {
	case counter.ChangeCalled, counter.ChangeRecalled, counter.ChangeFinished:
		f.deliverLobby(ch)
	}
}

func (f *Fanout) deliverCounter(ch *counter.Change) {
	roles := []session.Role{session.RoleStaffConsole, session.RoleCounterDisplay, session.RoleFeedbackDisplay}

	switch ch.Kind {
	case counter.ChangeWaiting:
		roles = []session.Role{session.RoleStaffConsole}
	case counter.ChangeAdvertisement:
		roles = []session.Role{session.RoleFeedbackDisplay}
	}

	targets := f.registry.Counter(ch.Counter.ID, roles...)
	if len(targets) == 0 {
		return
	}

	seq := f.seq.Next(protocol.CounterScope(ch.Counter.ID))

	for _, s := range targets {
		env := counterEnvelope(ch, s)
		env.Seq = seq
		f.send(s, env.Encode())
	}
}

func counterEnvelope(ch *counter.Change, s *session.Session) *protocol.Envelope {
	env := &protocol.Envelope{Status: protocol.StatusUpdate, Kind: protocol.KindUpdate}

	switch {
	case ch.Kind == counter.ChangeWaiting:
		env.Kind = protocol.KindWaiting
		env.Data = protocol.Fields{
			protocol.FieldCounterID:    ch.Counter.ID,
			protocol.FieldWaitingCount: ch.WaitingCount,
		}

		return env
	case s.Role == session.RoleFeedbackDisplay:
		env.Kind = protocol.KindFeedback
		if ch.Feedback.Mode == protocol.ModeAdvertisement {
			env.Kind = protocol.KindAdvertisement
		}
	}

	env.Data = roleFields(&ch.State, s)

	return env
}

func (f *Fanout) lobbyFor(agencyID string) *lobby {
	l, ok := f.lobbies[agencyID]
	if !ok {
		l = &lobby{serving: make(map[string]*marquee)}
		f.lobbies[agencyID] = l
	}

	return l
}

func (f *Fanout) deliverLobby(ch *counter.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()

	agencyID := ch.Counter.AgencyID
	l := f.lobbyFor(agencyID)

	if t := ch.Current; t != nil {
		l.serving[ch.Counter.ID] = &marquee{
			CounterID:   ch.Counter.ID,
			CounterName: ch.Counter.Name,
			Number:      t.QueueNumber,
			Ticket:      t,
		}
	} else {
		delete(l.serving, ch.Counter.ID)
	}

	targets := f.registry.Lobby(agencyID)
	if len(targets) == 0 {
		return
	}

	env := &protocol.Envelope{
		Status: protocol.StatusUpdate,
		Kind:   protocol.KindUpdate,
		Seq:    f.seq.Next(protocol.AgencyScope(agencyID)),
		Data:   lobbyFields(l.head(), f.history.Agency(agencyID)),
	}

	if ch.Kind == counter.ChangeFinished {
		env.Kind = protocol.KindHistory
	} else if ch.Current != nil {
		env.Data[protocol.FieldAnnounce] = protocol.Fields{
			protocol.FieldCounterName:   ch.Counter.Name,
			protocol.FieldCurrentNumber: ch.Current.QueueNumber,
		}
	}

	msg := env.Encode()
	for _, s := range targets {
		f.send(s, msg)
	}
}

// Snapshot sends a complete counter view to one joining session.
func (f *Fanout) Snapshot(s *session.Session, st *counter.State, ref string) {
	env := &protocol.Envelope{
		Status: protocol.StatusUpdate,
		Kind:   protocol.KindSnapshot,
		Ref:    ref,
		Seq:    f.seq.Current(protocol.CounterScope(st.Counter.ID)),
		Data:   roleFields(st, s),
	}

	f.send(s, env.Encode())
}

// Logout tells a session it is no longer valid and closes it.
func (f *Fanout) Logout(s *session.Session, message string) {
	env := protocol.Reply(protocol.StatusLogout, "", message)
	f.send(s, env.Encode())
	s.Close()
}

// JoinLobby registers a lobby display and sends its snapshot. The lobby
// lock keeps the snapshot ordered before any later lobby update.
func (f *Fanout) JoinLobby(ctx context.Context, s *session.Session, ref string) error {
	if s.AgencyID == "" {
		return models.ErrMissingAgencyID
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	l := f.lobbyFor(s.AgencyID)

	if !l.seeded {
		if err := f.seed(ctx, s.AgencyID, l); err != nil {
			return err
		}
	}

	f.registry.Add(s)

	env := &protocol.Envelope{
		Status: protocol.StatusUpdate,
		Kind:   protocol.KindSnapshot,
		Ref:    ref,
		Seq:    f.seq.Current(protocol.AgencyScope(s.AgencyID)),
		Data:   lobbyFields(l.head(), f.history.Agency(s.AgencyID)),
	}

	f.send(s, env.Encode())

	return nil
}

// seed loads the agency's Serving tickets. Changes published meanwhile wait
// on the lobby lock and are applied on top.
func (f *Fanout) seed(ctx context.Context, agencyID string, l *lobby) error {
	counters, err := f.source.ListCounters(ctx, agencyID)
	if err != nil {
		return fmt.Errorf("loading agency counters: %w", err)
	}

	if len(counters) == 0 {
		return models.ErrAgencyNotFound
	}

	for _, c := range counters {
		if c.CurrentTicketID == "" {
			continue
		}

		t, err := f.source.GetTicket(ctx, c.CurrentTicketID)
		if errors.Is(err, models.ErrTicketNotFound) {
			continue
		}

		if err != nil {
			return fmt.Errorf("loading serving ticket: %w", err)
		}

		if t.Status != models.TicketServing || t.CalledAt == nil {
			continue
		}

		if _, ok := l.serving[c.ID]; !ok {
			l.serving[c.ID] = &marquee{CounterID: c.ID, CounterName: c.Name, Number: t.QueueNumber, Ticket: t}
		}
	}

	l.seeded = true

	return nil
}

// Detach removes a session from the registry. Counter-scoped sessions go
// through the counter manager instead.
func (f *Fanout) Detach(s *session.Session) {
	f.registry.Remove(s.ID)
}

func (f *Fanout) send(s *session.Session, msg []byte) {
	if !s.Deliver(msg) {
		metrics.FanoutDropped.Inc()
		f.log.WithFields(logrus.Fields{"session_id": s.ID, "role": s.Role}).Debug("dropped message for slow session")

		return
	}

	metrics.FanoutMessages.WithLabelValues(string(s.Role)).Inc()
}
