package counter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/history"
	"github.com/persistorai/queuecall/internal/metrics"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/resolver"
	"github.com/persistorai/queuecall/internal/session"
	"github.com/persistorai/queuecall/internal/store"
)

// ErrClosed is returned once the Manager has been shut down.
var ErrClosed = errors.New("counter manager is closed")

// Config holds the timer settings of counter loops.
type Config struct {
	// StaffReleaseGrace is how long a counter keeps its operator after the
	// last staff console disconnects. Zero keeps it indefinitely.
	StaffReleaseGrace time.Duration

	// FeedbackCooldown is how long the feedback display offers a rating
	// after Done. Zero skips the rating window.
	FeedbackCooldown time.Duration
}

// Manager owns the per-counter command loops, starting them on first use.
type Manager struct {
	store    store.Store
	resolver *resolver.Resolver
	history  *history.Buffer
	registry *session.Registry
	pub      Publisher
	lease    Lease
	clock    clock.Clock
	log      *logrus.Logger
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	loads  singleflight.Group
}

// NewManager creates a Manager.
func NewManager(
	st store.Store,
	reg *session.Registry,
	hist *history.Buffer,
	pub Publisher,
	clk clock.Clock,
	log *logrus.Logger,
	cfg Config,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:    st,
		resolver: resolver.New(st),
		history:  hist,
		registry: reg,
		pub:      pub,
		clock:    clk,
		log:      log,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor),
	}
}

// SetLease makes counters single-owner across instances that share the
// store. It must be called before the first join.
func (m *Manager) SetLease(l Lease) {
	m.lease = l
}

func (m *Manager) lookup(counterID string) *actor {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.actors[counterID]
}

// get returns the running loop for a counter, loading it from the store
// once even under concurrent joins.
func (m *Manager) get(ctx context.Context, counterID string) (*actor, error) {
	if a := m.lookup(counterID); a != nil {
		return a, nil
	}

	v, err, _ := m.loads.Do(counterID, func() (any, error) {
		if a := m.lookup(counterID); a != nil {
			return a, nil
		}

		return m.load(ctx, counterID)
	})
	if err != nil {
		return nil, err
	}

	a, _ := v.(*actor)

	return a, nil
}

func (m *Manager) load(ctx context.Context, counterID string) (*actor, error) {
	c, current, err := m.loadCounter(ctx, counterID, m.lease == nil)
	if err != nil {
		return nil, err
	}

	a := newActor(m, c, current)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	m.actors[c.ID] = a
	metrics.ActiveCounters.Set(float64(len(m.actors)))
	m.mu.Unlock()

	go a.run()

	// Nobody can be connected to a freshly loaded counter, so an attached
	// operator left over from a previous run gets the usual grace period.
	if c.StaffID != "" {
		a.post(a.adoptStaff)
	}

	return a, nil
}

// loadCounter reads a counter and its Serving ticket. A current ticket that
// is no longer Serving at the counter is ignored, and cleared in the store
// when repair is set.
func (m *Manager) loadCounter(ctx context.Context, counterID string, repair bool) (*models.Counter, *models.Ticket, error) {
	c, err := m.store.GetCounter(ctx, counterID)
	if err != nil {
		return nil, nil, err
	}

	var current *models.Ticket

	if c.CurrentTicketID != "" {
		t, err := m.store.GetTicket(ctx, c.CurrentTicketID)
		if err != nil && !errors.Is(err, models.ErrTicketNotFound) {
			return nil, nil, fmt.Errorf("loading current ticket: %w", err)
		}

		if t != nil && t.Status == models.TicketServing && t.CounterID == c.ID {
			current = t
		} else if repair {
			m.log.WithFields(logrus.Fields{"counter_id": c.ID, "ticket_id": c.CurrentTicketID}).
				Warn("clearing stale current ticket")

			c.CurrentTicketID = ""
			if err := m.store.SaveCounter(ctx, c); err != nil {
				return nil, nil, fmt.Errorf("clearing stale current ticket: %w", err)
			}
		}
	}

	return c, current, nil
}

// Join attaches a counter-scoped session and sends its snapshot. Staff
// consoles may narrow the counter's services with requested. The returned
// session is the one registered.
func (m *Manager) Join(ctx context.Context, s *session.Session, requested []string, ref string) (*session.Session, error) {
	if !s.CounterScoped() {
		return nil, fmt.Errorf("role %s is not counter scoped", s.Role)
	}

	a, err := m.get(ctx, s.CounterID)
	if err != nil {
		return nil, err
	}

	// Staff sessions arrive carrying the operator's agency.
	if s.AgencyID != "" && s.AgencyID != a.agencyID {
		return nil, models.ErrCounterNotFound
	}

	s.AgencyID = a.agencyID

	var (
		joined  *session.Session
		joinErr error
	)

	if err := a.do(ctx, func() { joined, joinErr = a.join(s, requested, ref) }); err != nil {
		return nil, err
	}

	return joined, joinErr
}

// Detach removes a counter-scoped session.
func (m *Manager) Detach(s *session.Session) {
	a := m.lookup(s.CounterID)
	if a == nil {
		m.registry.Remove(s.ID)
		return
	}

	a.post(func() { a.detach(s) })
}

// Execute runs a staff console command on the session's counter.
func (m *Manager) Execute(ctx context.Context, s *session.Session, cmd Command) Result {
	if s.Role != session.RoleStaffConsole {
		return failure("only a staff console can send commands")
	}

	a, err := m.get(ctx, s.CounterID)
	if err != nil {
		return failure(err.Error())
	}

	var res Result

	if err := a.do(ctx, func() { res = a.execute(s, cmd) }); err != nil {
		return failure(err.Error())
	}

	metrics.CommandsTotal.WithLabelValues(cmd.Action, string(res.Status)).Inc()

	return res
}

// ApplyRemote takes a change relayed from the instance that owns the
// counter. A loaded counter mirrors it in command order.
func (m *Manager) ApplyRemote(ch *Change) {
	if a := m.lookup(ch.Counter.ID); a != nil {
		a.post(func() { a.mirror(ch) })
		return
	}

	if ch.Finished != nil {
		m.recordFinished(ch)
	}

	m.pub.ApplyRemote(ch)
}

// Rated closes the feedback rating window of a counter for ticketID.
func (m *Manager) Rated(counterID, ticketID string) {
	if a := m.lookup(counterID); a != nil {
		a.post(func() { a.rated(ticketID) })
	}
}

// RefreshWaiting pushes a new waiting count to staff consoles of running
// counters that serve the service.
func (m *Manager) RefreshWaiting(agencyID, serviceID string) {
	m.mu.Lock()
	targets := make([]*actor, 0)

	for _, a := range m.actors {
		if a.agencyID == agencyID && slices.Contains(a.services, serviceID) {
			targets = append(targets, a)
		}
	}
	m.mu.Unlock()

	for _, a := range targets {
		a.post(a.refreshWaiting)
	}
}

// ResyncWaiting pushes a fresh waiting count to the staff consoles of every
// running counter. Used after ticket notifications may have been missed.
func (m *Manager) ResyncWaiting() {
	m.mu.Lock()
	targets := make([]*actor, 0, len(m.actors))

	for _, a := range m.actors {
		targets = append(targets, a)
	}
	m.mu.Unlock()

	for _, a := range targets {
		a.post(a.refreshWaiting)
	}
}

// Close stops every counter loop and its timers.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	m.closed = true
	actors := make([]*actor, 0, len(m.actors))

	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.mu.Unlock()

	for _, a := range actors {
		close(a.stop)
	}

	for _, a := range actors {
		<-a.stopped
	}

	if m.lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), leaseCallTimeout)
		for _, a := range actors {
			if a.owner {
				if err := m.lease.Release(ctx, a.id); err != nil {
					a.log.WithError(err).Warn("releasing counter lease on shutdown failed")
				}
			}
		}
		cancel()
	}

	m.cancel()
	metrics.ActiveCounters.Set(0)
}
