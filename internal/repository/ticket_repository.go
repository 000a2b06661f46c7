package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/iliyamo/parkqr/internal/model"
)

// TicketRepo provides data access to the parking_tickets table.  The same
// statements run against MySQL and SQLite; timestamps are stored as UTC
// unix milliseconds so that range comparisons behave identically on both.
//
// The schema carries the two uniqueness guarantees the lifecycle relies
// on: a unique token and at most one ACTIVE row per plate.  Insert reports
// a violation of either as a typed conflict instead of a raw driver error.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *TicketRepo) DB() *sql.DB { return r.db }

const ticketColumns = `id, token, plate, vehicle_class, entry_time, exit_time, fee_cents,
	status, delivery_state, printed_at, downloaded_at, created_at, updated_at`

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(s rowScanner) (*model.Ticket, error) {
	var (
		t                              model.Ticket
		entry, created, updated        int64
		exit, fee, printed, downloaded sql.NullInt64
		class, status, delivery        string
	)
	if err := s.Scan(
		&t.ID, &t.Token, &t.Plate, &class, &entry, &exit, &fee,
		&status, &delivery, &printed, &downloaded, &created, &updated,
	); err != nil {
		return nil, err
	}
	t.VehicleClass = model.VehicleClass(class)
	t.Status = model.Status(status)
	t.DeliveryState = model.DeliveryState(delivery)
	t.EntryTime = fromMillis(entry)
	t.ExitTime = nullMillis(exit)
	if fee.Valid {
		f := fee.Int64
		t.FeeCents = &f
	}
	t.PrintedAt = nullMillis(printed)
	t.DownloadedAt = nullMillis(downloaded)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

// Insert stores a new ticket.  CreatedAt and UpdatedAt are filled from
// EntryTime when unset.  It returns ErrActivePlateExists or
// ErrDuplicateToken when the corresponding unique index rejects the row.
func (r *TicketRepo) Insert(ctx context.Context, t *model.Ticket) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.EntryTime
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.DeliveryState == "" {
		t.DeliveryState = model.DeliveryUnset
	}
	const q = `INSERT INTO parking_tickets
		(id, token, plate, vehicle_class, entry_time, status, delivery_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.Token, t.Plate, string(t.VehicleClass), toMillis(t.EntryTime),
		string(t.Status), string(t.DeliveryState), toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	if err != nil {
		if cerr := classifyUniqueViolation(err); cerr != nil {
			return cerr
		}
		return fmt.Errorf("TicketRepo.Insert: %w", err)
	}
	return nil
}

// FindByToken returns the ticket with the given token or ErrNotFound.
func (r *TicketRepo) FindByToken(ctx context.Context, token string) (*model.Ticket, error) {
	return r.findOne(ctx, "FindByToken",
		`SELECT `+ticketColumns+` FROM parking_tickets WHERE token = ? LIMIT 1`, token)
}

// FindByID returns the ticket with the given id or ErrNotFound.
func (r *TicketRepo) FindByID(ctx context.Context, id string) (*model.Ticket, error) {
	return r.findOne(ctx, "FindByID",
		`SELECT `+ticketColumns+` FROM parking_tickets WHERE id = ? LIMIT 1`, id)
}

// FindActiveByPlate returns the ACTIVE ticket for plate or ErrNotFound.
func (r *TicketRepo) FindActiveByPlate(ctx context.Context, plate string) (*model.Ticket, error) {
	return r.findOne(ctx, "FindActiveByPlate",
		`SELECT `+ticketColumns+` FROM parking_tickets WHERE plate = ? AND status = ? LIMIT 1`,
		plate, string(model.StatusActive))
}

func (r *TicketRepo) findOne(ctx context.Context, op, q string, args ...any) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("TicketRepo.%s: %w", op, err)
	}
	return t, nil
}

// UpdateExit settles an ACTIVE ticket in a single conditional statement.
// When no ACTIVE ticket with the token exists it returns ErrNotApplied and
// leaves the row untouched.
func (r *TicketRepo) UpdateExit(ctx context.Context, token string, exitTime time.Time, feeCents int64) (*model.Ticket, error) {
	const q = `UPDATE parking_tickets
		SET exit_time = ?, fee_cents = ?, status = ?, updated_at = ?
		WHERE token = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		toMillis(exitTime), feeCents, string(model.StatusCompleted), toMillis(exitTime),
		token, string(model.StatusActive),
	)
	if err != nil {
		return nil, fmt.Errorf("TicketRepo.UpdateExit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("TicketRepo.UpdateExit: %w", err)
	}
	if n == 0 {
		return nil, ErrNotApplied
	}
	return r.FindByToken(ctx, token)
}

// UpdateDelivery overwrites the delivery state of a ticket.  PRINTED also
// stamps printed_at and DIGITAL_DOWNLOAD stamps downloaded_at; other
// states leave both timestamps as they were.
func (r *TicketRepo) UpdateDelivery(ctx context.Context, token string, state model.DeliveryState, at time.Time) (*model.Ticket, error) {
	set := "delivery_state = ?, updated_at = ?"
	args := []any{string(state), toMillis(at)}
	switch state {
	case model.DeliveryPrinted:
		set += ", printed_at = ?"
		args = append(args, toMillis(at))
	case model.DeliveryDigitalDownload:
		set += ", downloaded_at = ?"
		args = append(args, toMillis(at))
	}
	args = append(args, token)
	res, err := r.db.ExecContext(ctx, `UPDATE parking_tickets SET `+set+` WHERE token = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("TicketRepo.UpdateDelivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("TicketRepo.UpdateDelivery: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.FindByToken(ctx, token)
}

// ListActive returns all ACTIVE tickets, newest entry first.
func (r *TicketRepo) ListActive(ctx context.Context) ([]model.Ticket, error) {
	return r.list(ctx, "ListActive",
		`SELECT `+ticketColumns+` FROM parking_tickets WHERE status = ? ORDER BY entry_time DESC`,
		string(model.StatusActive))
}

// ListAll returns every ticket, newest entry first.
func (r *TicketRepo) ListAll(ctx context.Context) ([]model.Ticket, error) {
	return r.list(ctx, "ListAll",
		`SELECT `+ticketColumns+` FROM parking_tickets ORDER BY entry_time DESC`)
}

func (r *TicketRepo) list(ctx context.Context, op, q string, args ...any) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("TicketRepo.%s: %w", op, err)
	}
	defer rows.Close()
	tickets := make([]model.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("TicketRepo.%s: %w", op, err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("TicketRepo.%s: %w", op, err)
	}
	return tickets, nil
}

// AggregateSince counts tickets whose entry_time is at or after since and
// sums their fees.  Tickets without a fee contribute zero.
func (r *TicketRepo) AggregateSince(ctx context.Context, since time.Time) (model.Aggregate, error) {
	var agg model.Aggregate
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(fee_cents), 0) FROM parking_tickets WHERE entry_time >= ?`,
		toMillis(since),
	).Scan(&agg.Count, &agg.FeeSum)
	if err != nil {
		return model.Aggregate{}, fmt.Errorf("TicketRepo.AggregateSince: %w", err)
	}
	return agg, nil
}

// Ping verifies the database connection.
func (r *TicketRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// classifyUniqueViolation maps a unique-index violation from either driver
// to ErrDuplicateToken or ErrActivePlateExists.  It returns nil for any
// other error.
func classifyUniqueViolation(err error) error {
	unique := false
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		unique = true
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			unique = true
		}
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint failed") {
		unique = true
	}
	if !unique {
		return nil
	}
	switch {
	case strings.Contains(msg, "uq_parking_tickets_token"), strings.Contains(msg, "parking_tickets.token"):
		return ErrDuplicateToken
	case strings.Contains(msg, "uq_parking_tickets_active_plate"), strings.Contains(msg, "parking_tickets.plate"):
		return ErrActivePlateExists
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}
