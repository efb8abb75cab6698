package counter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/protocol"
	"github.com/persistorai/queuecall/internal/session"
)

const leaseCallTimeout = 2 * time.Second

// Lease grants one server instance the right to run a counter's commands and
// timers. Instances sharing a store must share a Lease backend. Without a
// Lease every instance treats itself as the owner.
type Lease interface {
	// Acquire takes the counter's lease, or confirms this instance already
	// holds it.
	Acquire(ctx context.Context, counterID string) (bool, error)

	// Renew extends a lease this instance holds. It reports false once the
	// lease has passed to another instance or expired.
	Renew(ctx context.Context, counterID string) (bool, error)

	// Release gives up the lease if this instance holds it.
	Release(ctx context.Context, counterID string) error

	TTL() time.Duration
}

func (a *actor) leaseCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx(), leaseCallTimeout)
}

// claim makes this instance the counter's owner, reloading the counter from
// the store because a previous owner may have changed it.
func (a *actor) claim() bool {
	if a.owner {
		return true
	}

	ctx, cancel := a.leaseCtx()
	ok, err := a.m.lease.Acquire(ctx, a.id)
	cancel()

	if err != nil {
		a.log.WithError(err).Warn("acquiring counter lease failed")
		return false
	}

	if !ok {
		return false
	}

	if err := a.reload(true); err != nil {
		a.log.WithError(err).Error("reloading counter after lease acquire failed")
		a.releaseLease()

		return false
	}

	a.owner = true
	a.leaseUntil = a.m.clock.Now().Add(a.m.lease.TTL())
	a.armRenew()

	a.log.Info("counter lease acquired")

	return true
}

// reload replaces the cached counter with the stored one. Only the owner may
// repair a stale current ticket.
func (a *actor) reload(repair bool) error {
	c, current, err := a.m.loadCounter(a.ctx(), a.id, repair)
	if err != nil {
		return err
	}

	a.counter = c
	a.current = current

	switch {
	case current != nil && (a.feedback.Ticket == nil || a.feedback.Ticket.ID != current.ID):
		a.feedback = Feedback{Mode: protocol.ModeService, Ticket: current.Clone(), ServiceName: a.serviceName(current.ServiceID)}
	case current == nil && a.feedback.Mode == protocol.ModeService:
		a.feedback = Feedback{Mode: protocol.ModeAdvertisement}
	}

	return nil
}

// refresh brings a non-owner up to date before it answers a display join.
func (a *actor) refresh() {
	if err := a.reload(false); err != nil {
		a.log.WithError(err).Warn("refreshing mirrored counter failed")
	}
}

// adoptStaff takes over an operator attachment left by an earlier run or a
// failed instance and gives it the usual grace period.
func (a *actor) adoptStaff() {
	if !a.claim() {
		return
	}

	if a.counter.StaffID == "" {
		a.relinquish()
		return
	}

	if a.m.registry.CountRole(a.id, session.RoleStaffConsole) == 0 {
		a.armGrace()
	}
}

// relinquish hands the lease back once the counter has no operator.
func (a *actor) relinquish() {
	if a.m.lease == nil || !a.owner {
		return
	}

	a.stopRenew()
	a.owner = false
	a.releaseLease()

	a.log.Debug("counter lease released")
}

func (a *actor) releaseLease() {
	ctx, cancel := a.leaseCtx()
	defer cancel()

	if err := a.m.lease.Release(ctx, a.id); err != nil {
		a.log.WithError(err).Warn("releasing counter lease failed")
	}
}

func (a *actor) armRenew() {
	a.stopRenew()

	gen := a.renewGen

	a.renew = a.m.clock.AfterFunc(a.m.lease.TTL()/3, func() {
		a.post(func() {
			if gen == a.renewGen {
				a.renewLease()
			}
		})
	})
}

func (a *actor) stopRenew() {
	if a.renew != nil {
		a.renew.Stop()
		a.renew = nil
	}

	a.renewGen++
}

// renewLease keeps ownership through transient backend errors until the
// lease would have expired anyway.
func (a *actor) renewLease() {
	ctx, cancel := a.leaseCtx()
	ok, err := a.m.lease.Renew(ctx, a.id)
	cancel()

	now := a.m.clock.Now()

	switch {
	case err == nil && ok:
		a.leaseUntil = now.Add(a.m.lease.TTL())
		a.armRenew()
	case err != nil && now.Before(a.leaseUntil):
		a.log.WithError(err).Warn("renewing counter lease failed, retrying")
		a.armRenew()
	default:
		a.demote()
	}
}

// demote drops ownership after the lease was lost. Local staff consoles are
// logged out so the operator reconnects to the new owner.
func (a *actor) demote() {
	a.stopRenew()
	a.stopGrace()
	a.stopCooldown()
	a.owner = false

	for _, s := range a.m.registry.Counter(a.id, session.RoleStaffConsole) {
		a.m.registry.Remove(s.ID)
		a.m.pub.Logout(s, "counter moved to another server, reconnect")
	}

	a.log.Warn("counter lease lost")
}

// mirror applies a change relayed from the owning instance.
func (a *actor) mirror(ch *Change) {
	if a.owner {
		a.log.WithField("kind", ch.Kind).Warn("ignoring relayed change for an owned counter")
		return
	}

	a.stopCooldown()

	a.counter = ch.Counter.Clone()
	a.current = ch.Current.Clone()
	a.feedback = ch.Feedback

	if a.feedback.Ticket != nil {
		a.feedback.Ticket = a.feedback.Ticket.Clone()
	}

	if ch.Finished != nil {
		a.m.recordFinished(ch)
	}

	a.m.pub.ApplyRemote(ch)
}

func (a *actor) refreshWaiting() {
	if a.owner {
		a.publish(ChangeWaiting, nil)
	}
}

func (m *Manager) recordFinished(ch *Change) {
	m.history.Record(ch.Counter.AgencyID, models.HistoryEntry{
		CounterID:   ch.Counter.ID,
		CounterName: ch.Counter.Name,
		QueueNumber: ch.Finished.QueueNumber,
		Status:      ch.Finished.Status,
		At:          ch.At,
	})

	m.log.WithFields(logrus.Fields{"counter_id": ch.Counter.ID, "number": ch.Finished.QueueNumber}).
		Debug("recorded relayed finish")
}
