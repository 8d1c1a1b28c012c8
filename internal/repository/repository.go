// Package repository implements all database queries for the ticket ledger.
// It uses pgx directly (no ORM) for transparency and performance.
//
// The storage contract this package relies on is single-statement atomicity
// only. No method opens a multi-statement transaction: every write that
// guards an invariant expresses the check and the change in one statement.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapacityExceeded is returned when a reservation would oversell an event.
var ErrCapacityExceeded = errors.New("event is sold out")

// ErrEventUnavailable matches both ErrEventInactive and ErrEventClosed.
var ErrEventUnavailable = errors.New("event unavailable")

// ErrEventInactive is returned when booking an event that has been disabled.
var ErrEventInactive = fmt.Errorf("%w: event is not active", ErrEventUnavailable)

// ErrEventClosed is returned when booking after the event's closing time.
var ErrEventClosed = fmt.Errorf("%w: registration has closed", ErrEventUnavailable)

// ErrQuantityLimit is returned when a single purchase exceeds max_quantity.
var ErrQuantityLimit = errors.New("quantity exceeds the per-purchase limit")

// ErrAlreadyCheckedIn is returned when checking in a ticket twice.
var ErrAlreadyCheckedIn = errors.New("ticket already checked in")

// ErrRefunded is returned when checking in a refunded ticket.
var ErrRefunded = errors.New("ticket has been refunded")

// ErrConflict is returned when a unique value is already taken.
var ErrConflict = errors.New("unique value already taken")

// ErrCapacityBelowBooked is returned when lowering capacity under the
// quantity already sold.
var ErrCapacityBelowBooked = errors.New("capacity cannot be lower than places already booked")

// ErrInvalidTransition is returned when a processed payment is not in the
// processing phase.
var ErrInvalidTransition = errors.New("payment is not processing")

// DB is the subset of *pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
