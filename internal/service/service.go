// Package service implements business logic, validation, and orchestration
// between HTTP handlers, the ledger repositories and the payment gateway.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/notify"
)

var (
	// ErrInvalidBooking is returned for malformed booking requests.
	ErrInvalidBooking = errors.New("invalid booking")

	// ErrInvalidEvent is returned for malformed event settings.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrPriceMismatch is returned when the amount paid no longer matches
	// the current price of what was booked.
	ErrPriceMismatch = errors.New("price no longer matches the amount paid")

	// ErrAlreadyProcessed is returned when a payment confirmation has
	// already been claimed by an earlier delivery.
	ErrAlreadyProcessed = errors.New("payment already processed")

	// ErrRefundFailed is returned, joined with the original cause, when a
	// compensating refund could not be issued.
	ErrRefundFailed = errors.New("refund failed")

	// ErrPaymentIncomplete is returned when a checkout session is not paid.
	ErrPaymentIncomplete = errors.New("payment not completed")

	// ErrNotPaid is returned when refunding a free registration.
	ErrNotPaid = errors.New("registration was not paid for")
)

// Field limits keep encrypted checkout metadata within provider limits.
const (
	MaxBookingItems = 5
	MaxCapacity     = 100_000
	maxNameLen      = 200
	maxEmailLen     = 200
	maxPhoneLen     = 32
	maxNotesLen     = 200
)

// EventStore persists events.
type EventStore interface {
	Create(ctx context.Context, event *model.Event) error
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	GetBySlugIndex(ctx context.Context, index string) (*model.Event, error)
	SlugIndexExists(ctx context.Context, index string) (bool, error)
	Update(ctx context.Context, id string, upd model.UpdateEventRequest) (*model.Event, error)
}

// Ledger is the capacity ledger and registration store.
type Ledger interface {
	Reserve(ctx context.Context, reg *model.Registration) error
	Release(ctx context.Context, id string) error
	TokenIndexExists(ctx context.Context, index string) (bool, error)
	GetByID(ctx context.Context, id string) (*model.Registration, error)
	GetByTokenIndex(ctx context.Context, index string) (*model.Registration, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
	ListByPaymentReference(ctx context.Context, ref string) ([]model.Registration, error)
	CheckIn(ctx context.Context, id string, at time.Time) (*model.Registration, error)
	MarkRefunded(ctx context.Context, ref string) (int64, error)
}

// PaymentStore is the idempotency gate for payment confirmations.
type PaymentStore interface {
	Claim(ctx context.Context, ref string, items []model.PaymentItem) (bool, error)
	SetPhase(ctx context.Context, ref string, phase model.PaymentPhase) error
	Get(ctx context.Context, ref string) (*model.ProcessedPayment, error)
}

// ActivityLog records per-event audit messages.
type ActivityLog interface {
	Record(ctx context.Context, eventID, message string) error
	ListByEvent(ctx context.Context, eventID string, limit int) ([]model.ActivityEntry, error)
}

// Deps bundles the collaborators shared by the services.
type Deps struct {
	Events   EventStore
	Ledger   Ledger
	Payments PaymentStore
	Activity ActivityLog
	Gateway  gateway.Gateway
	Notifier notify.Notifier
	Crypt    *fieldcrypt.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	PublicBaseURL string
	Currency      string

	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewUnregistered()
	}
	d.PublicBaseURL = strings.TrimRight(d.PublicBaseURL, "/")
	return d
}

// normalizeAttendee trims the attendee fields and checks their shape.
func normalizeAttendee(a model.Attendee) (model.Attendee, error) {
	a.Name = strings.TrimSpace(a.Name)
	a.Email = strings.TrimSpace(strings.ToLower(a.Email))
	a.Phone = strings.TrimSpace(a.Phone)
	a.Notes = strings.TrimSpace(a.Notes)

	switch {
	case a.Name == "":
		return a, fmt.Errorf("%w: attendee name is required", ErrInvalidBooking)
	case len(a.Name) > maxNameLen:
		return a, fmt.Errorf("%w: attendee name is too long", ErrInvalidBooking)
	case a.Email != "" && !isValidEmail(a.Email):
		return a, fmt.Errorf("%w: email is not a valid email address", ErrInvalidBooking)
	case len(a.Email) > maxEmailLen:
		return a, fmt.Errorf("%w: email is too long", ErrInvalidBooking)
	case len(a.Phone) > maxPhoneLen:
		return a, fmt.Errorf("%w: phone is too long", ErrInvalidBooking)
	case len(a.Notes) > maxNotesLen:
		return a, fmt.Errorf("%w: notes are too long", ErrInvalidBooking)
	}
	return a, nil
}

// isValidEmail does a basic structural check.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}

// validID reports whether id can name a stored row. Anything else cannot
// exist and is answered as not found without a query.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func isValidWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

// recordEncryptionError counts and logs field-store failures, which point at
// key misconfiguration rather than bad input.
func recordEncryptionError(d Deps, err error, msg string, args ...any) {
	if !errors.Is(err, fieldcrypt.ErrEncryption) {
		return
	}
	d.Metrics.EncryptionError()
	d.Logger.Error(msg, append(args, "error", err)...)
}
