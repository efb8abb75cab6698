package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/clock"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

const inboxSize = 64

// actor serializes every read and write of one counter. All fields below
// inbox are touched only from run.
type actor struct {
	m        *Manager
	id       string
	agencyID string
	services []string
	log      *logrus.Entry

	inbox   chan func()
	stop    chan struct{}
	stopped chan struct{}

	counter      *models.Counter
	current      *models.Ticket
	feedback     Feedback
	serviceNames map[string]string

	grace       clock.Timer
	graceGen    uint64
	cooldown    clock.Timer
	cooldownGen uint64

	// owner is false while another instance holds the counter's lease. A
	// non-owner only mirrors relayed changes and runs no timers.
	owner      bool
	renew      clock.Timer
	renewGen   uint64
	leaseUntil time.Time
}

func newActor(m *Manager, c *models.Counter, current *models.Ticket) *actor {
	a := &actor{
		m:            m,
		id:           c.ID,
		agencyID:     c.AgencyID,
		services:     c.AssignedServiceIDs,
		log:          m.log.WithFields(logrus.Fields{"counter_id": c.ID, "agency_id": c.AgencyID}),
		inbox:        make(chan func(), inboxSize),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
		counter:      c.Clone(),
		current:      current,
		serviceNames: make(map[string]string),
		feedback:     Feedback{Mode: protocol.ModeAdvertisement},
		owner:        m.lease == nil,
	}

	if current != nil {
		a.feedback = Feedback{Mode: protocol.ModeService, Ticket: current.Clone(), ServiceName: a.serviceName(current.ServiceID)}
	}

	return a
}

func (a *actor) run() {
	defer close(a.stopped)

	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.stop:
			a.stopGrace()
			a.stopCooldown()
			a.stopRenew()

			return
		}
	}
}

// do runs fn on the command loop and waits for it to finish.
func (a *actor) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	select {
	case a.inbox <- func() { defer close(done); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stop:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-a.stopped:
		return ErrClosed
	}
}

// post queues fn without waiting. Used by timers and notifications.
func (a *actor) post(fn func()) {
	select {
	case a.inbox <- fn:
	case <-a.stop:
	}
}

func (a *actor) ctx() context.Context {
	return a.m.ctx
}

func (a *actor) serviceName(serviceID string) string {
	if name, ok := a.serviceNames[serviceID]; ok {
		return name
	}

	svc, err := a.m.store.GetService(a.ctx(), serviceID)
	if err != nil {
		a.log.WithError(err).WithField("service_id", serviceID).Warn("service lookup failed")
		return ""
	}

	a.serviceNames[serviceID] = svc.Name

	return svc.Name
}

func (a *actor) state() *State {
	st := &State{
		Counter:       *a.counter.Clone(),
		Current:       a.current.Clone(),
		History:       a.m.history.Counter(a.id),
		AgencyHistory: a.m.history.Agency(a.agencyID),
		Feedback:      a.feedback,
	}

	if a.current != nil {
		st.ServiceName = a.serviceName(a.current.ServiceID)
	}

	if st.Feedback.Ticket != nil {
		st.Feedback.Ticket = st.Feedback.Ticket.Clone()
	}

	n, err := a.m.store.CountWaiting(a.ctx(), a.services)
	if err != nil {
		a.log.WithError(err).Warn("counting waiting tickets failed")
	}

	st.WaitingCount = n

	return st
}

func (a *actor) publish(kind ChangeKind, finished *models.Ticket) *State {
	st := a.state()

	a.m.pub.Publish(&Change{
		State:    *st,
		Kind:     kind,
		At:       a.m.clock.Now(),
		Finished: finished,
	})

	return st
}

// join attaches a display or console session and sends its snapshot from
// the command loop, so no later update can overtake it.
func (a *actor) join(s *session.Session, requested []string, ref string) (*session.Session, error) {
	if !a.counter.Active {
		return nil, models.ErrCounterInactive
	}

	switch {
	case s.Role == session.RoleStaffConsole:
		if !a.claim() {
			return nil, models.ErrCounterElsewhere
		}

		ids, err := a.counter.SelectServices(requested)
		if err != nil {
			return nil, err
		}

		s = s.WithServices(ids)

		if err := a.attachStaff(s); err != nil {
			return nil, err
		}
	case !a.owner:
		a.refresh()

		if a.counter.StaffID != "" {
			a.adoptStaff()
		}
	}

	a.m.registry.Add(s)
	a.m.pub.Snapshot(s, a.state(), ref)

	a.log.WithFields(logrus.Fields{"session_id": s.ID, "role": s.Role}).Debug("session joined")

	return s, nil
}

func (a *actor) attachStaff(s *session.Session) error {
	a.stopGrace()

	if a.counter.StaffID == s.StaffID && a.counter.StaffName == s.StaffName {
		return nil
	}

	if a.counter.StaffID != "" && a.counter.StaffID != s.StaffID {
		for _, old := range a.m.registry.Counter(a.id, session.RoleStaffConsole) {
			a.m.registry.Remove(old.ID)
			a.m.pub.Logout(old, "counter taken over by "+s.StaffName)
		}

		a.log.WithFields(logrus.Fields{"from": a.counter.StaffID, "to": s.StaffID}).Info("counter handed off")
	}

	prevID, prevName := a.counter.StaffID, a.counter.StaffName
	a.counter.StaffID, a.counter.StaffName = s.StaffID, s.StaffName

	if err := a.m.store.SaveCounter(a.ctx(), a.counter); err != nil {
		a.counter.StaffID, a.counter.StaffName = prevID, prevName
		return fmt.Errorf("attaching staff: %w", err)
	}

	a.publish(ChangeStaff, nil)

	return nil
}

// detach removes a session. When the last staff console goes away the
// staff attachment survives until the grace timer fires.
func (a *actor) detach(s *session.Session) {
	if a.m.registry.Remove(s.ID) == nil {
		return
	}

	if s.Role == session.RoleStaffConsole && a.owner && a.counter.StaffID != "" &&
		a.m.registry.CountRole(a.id, session.RoleStaffConsole) == 0 {
		a.armGrace()
	}
}

func (a *actor) execute(s *session.Session, cmd Command) Result {
	if !a.owner {
		return failure(models.ErrCounterElsewhere.Error())
	}

	if a.counter.StaffID == "" || a.counter.StaffID != s.StaffID {
		return failure("staff is not attached to this counter")
	}

	switch cmd.Action {
	case protocol.ActionCall:
		return a.call(s, cmd)
	case protocol.ActionRecall:
		return a.recall(cmd)
	case protocol.ActionDone:
		return a.finish(cmd, models.TicketDone)
	case protocol.ActionMissed:
		return a.finish(cmd, models.TicketMissed)
	case protocol.ActionLeaveCounter:
		return a.leave()
	default:
		return failure(models.ErrUnknownAction.Error() + ": " + cmd.Action)
	}
}

func (a *actor) call(s *session.Session, cmd Command) Result {
	if a.current != nil {
		return failure(fmt.Sprintf("counter is already serving ticket %d", a.current.QueueNumber))
	}

	services := s.ServiceIDs
	if len(cmd.ServiceIDs) > 0 {
		ids, err := a.counter.SelectServices(cmd.ServiceIDs)
		if err != nil {
			return failure(err.Error())
		}

		services = ids
	}

	if len(services) == 0 {
		services = a.counter.AssignedServiceIDs
	}

	now := a.m.clock.Now()

	t, err := a.m.resolver.Next(a.ctx(), a.id, services, now)
	if errors.Is(err, models.ErrBacklogEmpty) || errors.Is(err, models.ErrNoServices) {
		return empty()
	}

	if err != nil {
		a.log.WithError(err).Error("calling next ticket failed")
		return failure("could not call the next ticket")
	}

	if t.Status != models.TicketServing || t.CounterID != a.id {
		panic(fmt.Sprintf("counter %s: claimed ticket %s is %s at %q", a.id, t.ID, t.Status, t.CounterID))
	}

	a.counter.CurrentTicketID = t.ID
	if err := a.m.store.SaveCounter(a.ctx(), a.counter); err != nil {
		a.counter.CurrentTicketID = ""

		if rerr := a.m.store.ReturnToFront(a.ctx(), t.ID); rerr != nil {
			a.log.WithError(rerr).WithField("ticket_id", t.ID).Error("returning claimed ticket failed")
		}

		a.log.WithError(err).Error("saving counter after call failed")

		return failure("could not call the next ticket")
	}

	a.current = t
	a.stopCooldown()
	a.feedback = Feedback{Mode: protocol.ModeService, Ticket: t.Clone(), ServiceName: a.serviceName(t.ServiceID)}

	st := a.publish(ChangeCalled, nil)

	a.log.WithFields(logrus.Fields{"ticket_id": t.ID, "number": t.QueueNumber}).Info("ticket called")

	return updated(t.Clone(), st)
}

func (a *actor) recall(cmd Command) Result {
	if a.current == nil {
		return empty()
	}

	if a.stale(cmd) {
		return failure(models.ErrTicketMismatch.Error())
	}

	st := a.publish(ChangeRecalled, nil)

	return updated(a.current.Clone(), st)
}

// stale reports whether the console acted on a ticket other than the current one.
func (a *actor) stale(cmd Command) bool {
	if cmd.TicketID != "" && cmd.TicketID != a.current.ID {
		return true
	}

	return cmd.CurrentNumber != nil && *cmd.CurrentNumber != a.current.QueueNumber
}

func (a *actor) finish(cmd Command, to models.TicketStatus) Result {
	if a.current == nil {
		return empty()
	}

	if a.stale(cmd) {
		return failure(models.ErrTicketMismatch.Error())
	}

	t, st, err := a.finishCurrent(to)
	if errors.Is(err, models.ErrTicketClosed) {
		return failure(err.Error())
	}

	if err != nil {
		return failure("could not update the ticket")
	}

	return updated(t, st)
}

// finishCurrent moves the current ticket to Done or Missed, records
// history, and publishes the change. A ticket the store no longer holds as
// Serving is dropped and ErrTicketClosed returned.
func (a *actor) finishCurrent(to models.TicketStatus) (*models.Ticket, *State, error) {
	now := a.m.clock.Now()

	t := a.current.Clone()
	if err := t.Finish(to, now); err != nil {
		panic(fmt.Sprintf("counter %s: %v", a.id, err))
	}

	if err := a.m.store.FinishTicket(a.ctx(), t); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrTicketNotFound) {
			a.dropCurrent()
			return nil, nil, models.ErrTicketClosed
		}

		a.log.WithError(err).WithField("ticket_id", t.ID).Error("finishing ticket failed")

		return nil, nil, err
	}

	a.current = nil
	a.counter.CurrentTicketID = ""

	if to == models.TicketDone {
		a.counter.TotalServed++
	}

	if err := a.m.store.SaveCounter(a.ctx(), a.counter); err != nil {
		a.log.WithError(err).Error("saving counter after finish failed")
	}

	a.m.history.Record(a.agencyID, models.HistoryEntry{
		CounterID:   a.id,
		CounterName: a.counter.Name,
		QueueNumber: t.QueueNumber,
		Status:      to,
		At:          now,
	})

	if a.m.cfg.FeedbackCooldown > 0 {
		mode := protocol.ModeMissed
		if to == models.TicketDone {
			mode = protocol.ModeRating
		}

		a.feedback = Feedback{Mode: mode, Ticket: t.Clone(), ServiceName: a.serviceName(t.ServiceID)}
		a.armCooldown()
	} else {
		a.stopCooldown()
		a.feedback = Feedback{Mode: protocol.ModeAdvertisement}
	}

	st := a.publish(ChangeFinished, t.Clone())

	a.log.WithFields(logrus.Fields{"ticket_id": t.ID, "number": t.QueueNumber, "status": to}).Info("ticket finished")

	return t, st, nil
}

// dropCurrent forgets a current ticket that was closed outside this loop so
// the counter can call again.
func (a *actor) dropCurrent() {
	id := a.current.ID
	fields := logrus.Fields{"ticket_id": id}

	if stored, err := a.m.store.GetTicket(a.ctx(), id); err == nil {
		fields["stored_status"] = stored.Status
	}

	a.log.WithFields(fields).Warn("current ticket closed elsewhere, clearing it")

	a.current = nil
	a.counter.CurrentTicketID = ""

	if err := a.m.store.SaveCounter(a.ctx(), a.counter); err != nil {
		a.log.WithError(err).Error("saving counter after dropping ticket failed")
	}

	a.stopCooldown()
	a.feedback = Feedback{Mode: protocol.ModeAdvertisement}
	a.publish(ChangeFinished, nil)
}

// leave releases the staff attachment, first forcing an open ticket to Missed.
func (a *actor) leave() Result {
	var finished *models.Ticket

	if a.current != nil {
		t, _, err := a.finishCurrent(models.TicketMissed)
		if err != nil && !errors.Is(err, models.ErrTicketClosed) {
			return failure("could not update the ticket")
		}

		finished = t
	}

	a.releaseStaff()

	if finished == nil {
		return Result{Status: protocol.StatusSuccess}
	}

	return updated(finished, a.state())
}

// releaseStaff detaches the operator and gives up the counter's lease.
func (a *actor) releaseStaff() {
	defer a.relinquish()

	a.stopGrace()

	if a.counter.StaffID == "" {
		return
	}

	a.counter.StaffID, a.counter.StaffName = "", ""
	if err := a.m.store.SaveCounter(a.ctx(), a.counter); err != nil {
		a.log.WithError(err).Error("saving counter after staff release failed")
	}

	a.publish(ChangeStaff, nil)

	a.log.Info("staff released")
}

func (a *actor) armGrace() {
	a.stopGrace()

	if a.m.cfg.StaffReleaseGrace <= 0 {
		return
	}

	a.graceGen++
	gen := a.graceGen

	a.grace = a.m.clock.AfterFunc(a.m.cfg.StaffReleaseGrace, func() {
		a.post(func() { a.graceExpired(gen) })
	})
}

func (a *actor) stopGrace() {
	if a.grace != nil {
		a.grace.Stop()
		a.grace = nil
	}

	a.graceGen++
}

func (a *actor) graceExpired(gen uint64) {
	if gen != a.graceGen || a.m.registry.CountRole(a.id, session.RoleStaffConsole) > 0 {
		return
	}

	a.grace = nil

	if a.current != nil {
		if _, _, err := a.finishCurrent(models.TicketMissed); err != nil && !errors.Is(err, models.ErrTicketClosed) {
			a.armGrace()
			return
		}
	}

	a.releaseStaff()
}

func (a *actor) armCooldown() {
	a.stopCooldown()

	gen := a.cooldownGen

	a.cooldown = a.m.clock.AfterFunc(a.m.cfg.FeedbackCooldown, func() {
		a.post(func() {
			if gen == a.cooldownGen {
				a.showAdvertisement()
			}
		})
	})
}

func (a *actor) stopCooldown() {
	if a.cooldown != nil {
		a.cooldown.Stop()
		a.cooldown = nil
	}

	a.cooldownGen++
}

func (a *actor) showAdvertisement() {
	a.stopCooldown()

	if a.feedback.Mode == protocol.ModeAdvertisement {
		return
	}

	a.feedback = Feedback{Mode: protocol.ModeAdvertisement}
	a.publish(ChangeAdvertisement, nil)
}

// rated ends the rating window early when the rated ticket is on display.
func (a *actor) rated(ticketID string) {
	if a.owner && a.feedback.Mode == protocol.ModeRating && a.feedback.Ticket != nil && a.feedback.Ticket.ID == ticketID {
		a.showAdvertisement()
	}
}
