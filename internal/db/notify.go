package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/dbpool"
)

const (
	listenChannel     = "ticket_events"
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffMultiplier = 2
	waitDeadline      = 2 * time.Minute
)

// WaitingRefresher recomputes the waiting count shown on staff consoles.
// RefreshWaiting targets counters drawing from one service; ResyncWaiting
// targets every running counter.
type WaitingRefresher interface {
	RefreshWaiting(agencyID, serviceID string)
	ResyncWaiting()
}

// NotifyBridge subscribes to PostgreSQL LISTEN/NOTIFY on the ticket_events
// channel so tickets inserted by any issuer update open staff consoles.
type NotifyBridge struct {
	log       *logrus.Logger
	pool      *dbpool.Pool
	refresher WaitingRefresher
}

// NewNotifyBridge creates a NotifyBridge wired to the given pool and refresher.
func NewNotifyBridge(log *logrus.Logger, pool *dbpool.Pool, refresher WaitingRefresher) *NotifyBridge {
	return &NotifyBridge{
		log:       log,
		pool:      pool,
		refresher: refresher,
	}
}

// Start checks the database is reachable and launches the LISTEN loop in a
// background goroutine, which reconnects with backoff until ctx is done.
func (b *NotifyBridge) Start(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("notify bridge: database not reachable: %w", err)
	}

	go b.listen(ctx)

	return nil
}

func (b *NotifyBridge) listen(ctx context.Context) {
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		err := b.subscribeAndForward(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		b.log.WithError(err).WithField("retry_in", backoff).
			Warn("notify bridge connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff = nextBackoff(backoff)
	}
}

// subscribeAndForward holds one connection in LISTEN until it fails or ctx
// is cancelled. Tickets issued while no connection was listening produced
// no notification, so every successful LISTEN is followed by a resync.
func (b *NotifyBridge) subscribeAndForward(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{listenChannel}.Sanitize()); err != nil {
		return fmt.Errorf("executing LISTEN: %w", err)
	}

	b.log.WithField("channel", listenChannel).Info("notify bridge listening")
	b.refresher.ResyncWaiting()

	for {
		// WaitForNotification does not return on ctx alone while idle.
		if err := conn.Conn().PgConn().Conn().SetReadDeadline(time.Now().Add(waitDeadline)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			return fmt.Errorf("waiting for notification: %w", err)
		}

		b.handleNotification(notification)
	}
}

// handleNotification decodes a ticket event and triggers a waiting refresh.
func (b *NotifyBridge) handleNotification(n *pgconn.Notification) {
	b.log.WithFields(logrus.Fields{
		"channel": n.Channel,
		"pid":     n.PID,
	}).Debug("notification received")

	ev, ok := parseTicketEvent(n.Payload)
	if !ok {
		b.log.Warn("dropping ticket notification without agency_id or service_id")
		return
	}

	b.refresher.RefreshWaiting(ev.AgencyID, ev.ServiceID)
}

// ticketEvent is the payload emitted by the tickets insert trigger.
type ticketEvent struct {
	Type      string `json:"type"`
	AgencyID  string `json:"agency_id"`
	ServiceID string `json:"service_id"`
	TicketID  string `json:"ticket_id"`
}

func parseTicketEvent(payload string) (ticketEvent, bool) {
	var ev ticketEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ticketEvent{}, false
	}

	if ev.AgencyID == "" || ev.ServiceID == "" {
		return ticketEvent{}, false
	}

	return ev, true
}

// nextBackoff doubles current, capped at maxBackoff, with ±25% jitter.
func nextBackoff(current time.Duration) time.Duration {
	next := current * backoffMultiplier
	if next > maxBackoff {
		next = maxBackoff
	}

	jitter := float64(next) * (0.75 + rand.Float64()*0.5) //nolint:gosec // jitter doesn't need crypto rand.

	return time.Duration(jitter)
}
