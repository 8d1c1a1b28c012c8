package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// Checkout metadata keys.
const (
	metaItems         = "items"
	metaAttendeeName  = "attendee_name"
	metaAttendeeEmail = "attendee_email"
	metaAttendeePhone = "attendee_phone"
	metaAttendeeNotes = "attendee_notes"
)

// BookingService turns booking requests into registrations (free) or
// checkout sessions (paid).
type BookingService struct {
	deps     Deps
	reserver *reserver
}

// NewBookingService constructs a BookingService.
func NewBookingService(d Deps) *BookingService {
	d = d.withDefaults()
	return &BookingService{deps: d, reserver: newReserver(d)}
}

// Register books quantity places of a single event.
func (s *BookingService) Register(ctx context.Context, eventID string, req model.RegisterRequest) (*model.BookingOutcome, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidBooking)
	}
	return s.Book(ctx, model.BookingRequest{
		Items:    []model.BookingItem{{EventID: eventID, Quantity: req.Quantity}},
		Attendee: req.Attendee,
	})
}

// Book validates the request and either reserves the places straight away,
// when nothing is payable, or opens a checkout session. Paid bookings write
// nothing to the ledger until the payment is confirmed.
func (s *BookingService) Book(ctx context.Context, req model.BookingRequest) (*model.BookingOutcome, error) {
	attendee, err := normalizeAttendee(req.Attendee)
	if err != nil {
		return nil, err
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	events := make([]*model.Event, 0, len(req.Items))
	items := make([]model.PaymentItem, 0, len(req.Items))
	var total int64
	for _, it := range req.Items {
		event, err := s.deps.Events.GetByID(ctx, it.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load event: %w", err)
		}
		events = append(events, event)
		items = append(items, model.PaymentItem{
			EventID:        event.ID,
			Quantity:       it.Quantity,
			UnitPriceMinor: event.Price(),
		})
		total += event.Price() * int64(it.Quantity)
	}

	if total == 0 {
		regs, err := s.reserver.reserveAll(ctx, items, attendee, nil)
		if err != nil {
			return nil, err
		}
		s.deps.Logger.Info("free booking completed", "registrations", len(regs), "items", len(items))
		s.reserver.afterBooking(ctx, regs, "")
		return &model.BookingOutcome{Registrations: regs}, nil
	}
	return s.checkout(ctx, events, items, attendee, total)
}

func (s *BookingService) checkout(ctx context.Context, events []*model.Event, items []model.PaymentItem, attendee model.Attendee, total int64) (*model.BookingOutcome, error) {
	currency := ""
	names := make([]string, 0, len(events))
	for i, event := range events {
		if err := checkAvailable(event, items[i].Quantity, s.deps.Now()); err != nil {
			s.deps.Logger.Info("checkout refused", "event_id", event.ID, "error", err)
			return nil, err
		}
		names = append(names, event.Name)
		if event.IsFree() {
			continue
		}
		if currency == "" {
			currency = event.Currency
		} else if currency != event.Currency {
			return nil, fmt.Errorf("%w: events are priced in different currencies", ErrInvalidBooking)
		}
	}

	metadata, err := s.encodeMetadata(items, attendee)
	if err != nil {
		return nil, err
	}

	sess, err := s.deps.Gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		AmountMinor: total,
		Currency:    currency,
		Description: strings.Join(names, ", "),
		SuccessURL:  s.deps.PublicBaseURL + "/payments/return?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.deps.PublicBaseURL + "/e/" + events[0].Slug,
		Metadata:    metadata,
	})
	if err != nil {
		s.deps.Logger.Error("create checkout session failed", "error", err)
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.deps.Logger.Info("checkout session created",
		"session_id", sess.SessionID, "amount", model.FormatPrice(total, currency), "items", len(items))
	return &model.BookingOutcome{CheckoutURL: sess.RedirectURL, SessionID: sess.SessionID}, nil
}

// encodeMetadata stores the booked items in the clear and every attendee
// field encrypted, one key per field.
func (s *BookingService) encodeMetadata(items []model.PaymentItem, attendee model.Attendee) (map[string]string, error) {
	rawItems, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	meta := map[string]string{metaItems: string(rawItems)}

	fields := []struct{ key, value string }{
		{metaAttendeeName, attendee.Name},
		{metaAttendeeEmail, attendee.Email},
		{metaAttendeePhone, attendee.Phone},
		{metaAttendeeNotes, attendee.Notes},
	}
	for _, f := range fields {
		enc, err := s.deps.Crypt.EncryptOptional(f.value)
		if err != nil {
			recordEncryptionError(s.deps, err, "checkout metadata encryption failed")
			return nil, fmt.Errorf("encrypt %s: %w", f.key, err)
		}
		if enc != "" {
			meta[f.key] = enc
		}
	}
	return meta, nil
}

// checkAvailable is an advisory pre-check so buyers are not sent to pay for
// something already gone. The ledger decides again on confirmation.
func checkAvailable(event *model.Event, quantity int, now time.Time) error {
	switch {
	case !event.Active:
		return repository.ErrEventInactive
	case event.IsClosed(now):
		return repository.ErrEventClosed
	case quantity > event.MaxQuantity:
		return repository.ErrQuantityLimit
	case quantity > event.Remaining():
		return repository.ErrCapacityExceeded
	}
	return nil
}

func validateItems(items []model.BookingItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalidBooking)
	}
	if len(items) > MaxBookingItems {
		return fmt.Errorf("%w: at most %d events per booking", ErrInvalidBooking, MaxBookingItems)
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.EventID == "" {
			return fmt.Errorf("%w: event id is required", ErrInvalidBooking)
		}
		if !validID(it.EventID) {
			return repository.ErrNotFound
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidBooking)
		}
		if seen[it.EventID] {
			return fmt.Errorf("%w: event %s listed twice", ErrInvalidBooking, it.EventID)
		}
		seen[it.EventID] = true
	}
	return nil
}
