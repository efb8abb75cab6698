package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/persistorai/queuecall/internal/dbpool"
	"github.com/persistorai/queuecall/internal/models"
)

// ticketColumns is the column list shared by ticket queries.
const ticketColumns = `id, agency_id, service_id, queue_number, status, counter_id, called_at, issued_at, finished_at`

// Postgres is a Store backed by PostgreSQL.
type Postgres struct {
	pool *dbpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool *dbpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var (
		t         models.Ticket
		status    string
		counterID *string
	)

	err := row.Scan(&t.ID, &t.AgencyID, &t.ServiceID, &t.QueueNumber, &status,
		&counterID, &t.CalledAt, &t.IssuedAt, &t.FinishedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TicketStatus(status)
	if counterID != nil {
		t.CounterID = *counterID
	}

	return &t, nil
}

// GetCounter returns the counter with its services in configured order.
func (p *Postgres) GetCounter(ctx context.Context, counterID string) (*models.Counter, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
SELECT c.id, c.agency_id, c.name, c.active, c.current_ticket_id::text, c.total_served,
       c.staff_id, c.staff_name,
       COALESCE(array_agg(cs.service_id ORDER BY cs.position) FILTER (WHERE cs.service_id IS NOT NULL), '{}')
FROM counters c
LEFT JOIN counter_services cs ON cs.counter_id = c.id
WHERE c.id = $1
GROUP BY c.id`

	c, err := scanCounter(p.pool.QueryRow(ctx, query, counterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrCounterNotFound
		}

		return nil, fmt.Errorf("getting counter: %w", err)
	}

	return c, nil
}

func scanCounter(row pgx.Row) (*models.Counter, error) {
	var (
		c         models.Counter
		currentID *string
		staffID   *string
	)

	err := row.Scan(&c.ID, &c.AgencyID, &c.Name, &c.Active, &currentID, &c.TotalServed,
		&staffID, &c.StaffName, &c.AssignedServiceIDs)
	if err != nil {
		return nil, err
	}

	if currentID != nil {
		c.CurrentTicketID = *currentID
	}

	if staffID != nil {
		c.StaffID = *staffID
	}

	return &c, nil
}

// ListCounters returns the agency's counters ordered by name.
func (p *Postgres) ListCounters(ctx context.Context, agencyID string) ([]models.Counter, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
SELECT c.id, c.agency_id, c.name, c.active, c.current_ticket_id::text, c.total_served,
       c.staff_id, c.staff_name,
       COALESCE(array_agg(cs.service_id ORDER BY cs.position) FILTER (WHERE cs.service_id IS NOT NULL), '{}')
FROM counters c
LEFT JOIN counter_services cs ON cs.counter_id = c.id
WHERE c.agency_id = $1
GROUP BY c.id
ORDER BY c.name`

	rows, err := p.pool.Query(ctx, query, agencyID)
	if err != nil {
		return nil, fmt.Errorf("listing counters: %w", err)
	}
	defer rows.Close()

	out := make([]models.Counter, 0)
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}

		out = append(out, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counters: %w", err)
	}

	return out, nil
}

// SaveCounter stores the mutable counter fields.
func (p *Postgres) SaveCounter(ctx context.Context, c *models.Counter) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
UPDATE counters
SET current_ticket_id = NULLIF($2, '')::uuid,
    total_served = $3,
    staff_id = NULLIF($4, ''),
    staff_name = $5
WHERE id = $1`

	tag, err := p.pool.Exec(ctx, query, c.ID, c.CurrentTicketID, c.TotalServed, c.StaffID, c.StaffName)
	if err != nil {
		return fmt.Errorf("saving counter: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrCounterNotFound
	}

	return nil
}

// GetService returns a service.
func (p *Postgres) GetService(ctx context.Context, serviceID string) (*models.Service, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var s models.Service

	err := p.pool.QueryRow(ctx, `SELECT id, agency_id, name FROM services WHERE id = $1`, serviceID).
		Scan(&s.ID, &s.AgencyID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrServiceNotFound
		}

		return nil, fmt.Errorf("getting service: %w", err)
	}

	return &s, nil
}

// ListServices returns the agency's services ordered by name.
func (p *Postgres) ListServices(ctx context.Context, agencyID string) ([]models.Service, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT id, agency_id, name FROM services WHERE agency_id = $1 ORDER BY name`, agencyID)
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	defer rows.Close()

	out := make([]models.Service, 0)
	for rows.Next() {
		var s models.Service
		if err := rows.Scan(&s.ID, &s.AgencyID, &s.Name); err != nil {
			return nil, fmt.Errorf("scanning service: %w", err)
		}

		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating services: %w", err)
	}

	return out, nil
}

// GetTicket returns a ticket by id.
func (p *Postgres) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	t, err := scanTicket(p.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, models.ErrTicketNotFound
		}

		return nil, fmt.Errorf("getting ticket: %w", err)
	}

	return t, nil
}

// IssueTicket numbers and inserts a Waiting ticket in one transaction. The
// sequence upsert row-locks the (service, day) pair, serializing issuers.
func (p *Postgres) IssueTicket(ctx context.Context, serviceID string, now time.Time) (*models.Ticket, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var ticket *models.Ticket

	err := p.pool.WithTx(ctx, func(ctx context.Context) error {
		svc, err := p.GetService(ctx, serviceID)
		if err != nil {
			return err
		}

		day := models.OperatingDay(now)

		var number int

		err = p.pool.QueryRow(ctx, `
INSERT INTO ticket_sequences (service_id, operating_day, last_number)
VALUES ($1, $2::date, 1)
ON CONFLICT (service_id, operating_day)
DO UPDATE SET last_number = ticket_sequences.last_number + 1
RETURNING last_number`, serviceID, day).Scan(&number)
		if err != nil {
			return fmt.Errorf("advancing ticket sequence: %w", err)
		}

		ticket, err = scanTicket(p.pool.QueryRow(ctx, `
INSERT INTO tickets (id, agency_id, service_id, operating_day, queue_number, status, issued_at)
VALUES ($1, $2, $3, $4::date, $5, 'Waiting', $6)
RETURNING `+ticketColumns, uuid.New().String(), svc.AgencyID, serviceID, day, number, now))
		if err != nil {
			return fmt.Errorf("inserting ticket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ticket, nil
}

// ClaimNext marks the backlog head Serving with a single UPDATE. SKIP LOCKED
// lets concurrent claimers on the same service take distinct tickets.
func (p *Postgres) ClaimNext(ctx context.Context, serviceID, counterID string, now time.Time) (*models.Ticket, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
UPDATE tickets
SET status = 'Serving', counter_id = $2, called_at = $3
WHERE id = (
    SELECT id FROM tickets
    WHERE service_id = $1 AND status = 'Waiting'
    ORDER BY operating_day, queue_number
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + ticketColumns

	t, err := scanTicket(p.pool.QueryRow(ctx, query, serviceID, counterID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrBacklogEmpty
		}

		return nil, fmt.Errorf("claiming ticket: %w", err)
	}

	return t, nil
}

// ReturnToFront resets a Serving ticket to Waiting. Its unchanged queue
// number puts it back at the head of the backlog.
func (p *Postgres) ReturnToFront(ctx context.Context, ticketID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
UPDATE tickets SET status = 'Waiting', counter_id = NULL, called_at = NULL
WHERE id = $1 AND status = 'Serving'`, ticketID)
	if err != nil {
		if isInvalidUUID(err) {
			return models.ErrTicketNotFound
		}

		return fmt.Errorf("returning ticket to backlog: %w", err)
	}

	if tag.RowsAffected() == 0 {
		cur, err := p.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}

		return models.InvalidTransition(cur.Status, models.TicketWaiting)
	}

	return nil
}

// FinishTicket stores a Done or Missed transition.
func (p *Postgres) FinishTicket(ctx context.Context, t *models.Ticket) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if !t.Status.Terminal() {
		return models.InvalidTransition(models.TicketServing, t.Status)
	}

	tag, err := p.pool.Exec(ctx, `
UPDATE tickets SET status = $2, called_at = NULL, finished_at = $3
WHERE id = $1 AND status = 'Serving'`, t.ID, string(t.Status), t.FinishedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return models.ErrTicketNotFound
		}

		return fmt.Errorf("finishing ticket: %w", err)
	}

	if tag.RowsAffected() == 0 {
		cur, err := p.GetTicket(ctx, t.ID)
		if err != nil {
			return err
		}

		return models.InvalidTransition(cur.Status, t.Status)
	}

	return nil
}

// WaitingAhead counts Waiting tickets of the same service that ClaimNext
// would take first, including leftovers from earlier operating days.
func (p *Postgres) WaitingAhead(ctx context.Context, ticketID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const query = `
SELECT t.status, (
    SELECT count(*) FROM tickets w
    WHERE w.service_id = t.service_id
      AND w.status = 'Waiting'
      AND (w.operating_day < t.operating_day
           OR (w.operating_day = t.operating_day AND w.queue_number < t.queue_number))
)
FROM tickets t
WHERE t.id = $1`

	var (
		status string
		ahead  int
	)

	if err := p.pool.QueryRow(ctx, query, ticketID).Scan(&status, &ahead); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return 0, models.ErrTicketNotFound
		}

		return 0, fmt.Errorf("counting tickets ahead: %w", err)
	}

	if models.TicketStatus(status) != models.TicketWaiting {
		return 0, nil
	}

	return ahead, nil
}

// CountWaiting returns the number of Waiting tickets across the services.
func (p *Postgres) CountWaiting(ctx context.Context, serviceIDs []string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int

	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM tickets WHERE service_id = ANY($1) AND status = 'Waiting'`, serviceIDs).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting waiting tickets: %w", err)
	}

	return n, nil
}

// GetStaffByToken resolves an operator token by its hash.
func (p *Postgres) GetStaffByToken(ctx context.Context, token string) (*models.Staff, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var s models.Staff

	err := p.pool.QueryRow(ctx, `SELECT id, agency_id, name FROM staff WHERE token_hash = $1`, hashToken(token)).
		Scan(&s.ID, &s.AgencyID, &s.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStaffNotFound
		}

		return nil, fmt.Errorf("looking up staff: %w", err)
	}

	return &s, nil
}

// RecordRating inserts a rating, replacing an earlier one for the ticket.
func (p *Postgres) RecordRating(ctx context.Context, r *models.Rating) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO ratings (ticket_id, counter_id, score, comment, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (ticket_id) DO UPDATE
SET score = EXCLUDED.score, comment = EXCLUDED.comment, created_at = EXCLUDED.created_at`,
		r.TicketID, r.CounterID, r.Score, r.Comment, r.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidUUID(err) {
			return models.ErrTicketNotFound
		}

		return fmt.Errorf("recording rating: %w", err)
	}

	return nil
}
