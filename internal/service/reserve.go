package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/identifier"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// reserver runs the multi-event reservation saga shared by free bookings
// and payment reconciliation.
type reserver struct {
	deps   Deps
	tokens *identifier.Generator
}

func newReserver(d Deps) *reserver {
	return &reserver{deps: d, tokens: identifier.NewTokenGenerator(d.Crypt)}
}

// reserveAll reserves every item in order. If any reservation fails, the
// ones already made are released newest first and the failure is returned,
// so either every item is booked or none is.
//
// ref marks the registrations as paid; each then records its line total.
func (r *reserver) reserveAll(ctx context.Context, items []model.PaymentItem, attendee model.Attendee, ref *string) ([]model.Registration, error) {
	created := make([]model.Registration, 0, len(items))
	for _, item := range items {
		reg, err := r.reserveOne(ctx, item, attendee, ref)
		if err != nil {
			if relErr := r.releaseAll(ctx, created); relErr != nil {
				return nil, errors.Join(err, relErr)
			}
			return nil, err
		}
		created = append(created, *reg)
	}
	return created, nil
}

// reserveAttempts bounds how often a reservation is retried when its ticket
// token loses a race for the unique index.
const reserveAttempts = 3

func (r *reserver) reserveOne(ctx context.Context, item model.PaymentItem, attendee model.Attendee, ref *string) (*model.Registration, error) {
	reg := &model.Registration{
		ID:               uuid.NewString(),
		EventID:          item.EventID,
		Quantity:         item.Quantity,
		Attendee:         attendee,
		PaymentReference: ref,
	}
	if ref != nil {
		total := item.Total()
		reg.PricePaidMinor = &total
	}

	for attempt := 1; ; attempt++ {
		token, err := r.tokens.GenerateUnique(ctx, r.deps.Ledger.TokenIndexExists)
		if err != nil {
			r.deps.Metrics.Reservation(metrics.OutcomeError)
			r.deps.Logger.Error("ticket token generation failed", "event_id", item.EventID, "error", err)
			return nil, fmt.Errorf("ticket token: %w", err)
		}
		reg.TicketToken, reg.TicketTokenIndex = token.Value, token.Index

		err = r.deps.Ledger.Reserve(ctx, reg)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrConflict) && attempt < reserveAttempts {
			r.deps.Logger.Warn("ticket token collided, retrying", "event_id", item.EventID, "attempt", attempt)
			continue
		}

		outcome := reservationOutcome(err)
		r.deps.Metrics.Reservation(outcome)
		if outcome == metrics.OutcomeError {
			recordEncryptionError(r.deps, err, "registration encryption failed", "event_id", item.EventID)
			r.deps.Logger.Error("reservation failed", "event_id", item.EventID, "error", err)
		} else {
			r.deps.Logger.Info("reservation rejected", "event_id", item.EventID, "quantity", item.Quantity, "reason", outcome)
		}
		return nil, err
	}
	r.deps.Metrics.Reservation(metrics.OutcomeReserved)
	return reg, nil
}

// releaseAll undoes reservations newest first.
func (r *reserver) releaseAll(ctx context.Context, created []model.Registration) error {
	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		reg := created[i]
		if err := r.deps.Ledger.Release(ctx, reg.ID); err != nil {
			r.deps.Logger.Error("compensating release failed",
				"registration_id", reg.ID, "event_id", reg.EventID, "error", err)
			errs = append(errs, fmt.Errorf("release %s: %w", reg.ID, err))
			continue
		}
		r.deps.Metrics.Release()
		r.deps.Logger.Info("reservation released", "registration_id", reg.ID, "event_id", reg.EventID)
	}
	return errors.Join(errs...)
}

// afterBooking runs the best-effort side effects of a completed booking.
// Failures are logged and never undo the booking.
func (r *reserver) afterBooking(ctx context.Context, regs []model.Registration, ref string) {
	byEvent := make(map[string][]model.Registration)
	var order []string
	for _, reg := range regs {
		if _, seen := byEvent[reg.EventID]; !seen {
			order = append(order, reg.EventID)
		}
		byEvent[reg.EventID] = append(byEvent[reg.EventID], reg)
	}

	for _, eventID := range order {
		group := byEvent[eventID]
		event, err := r.deps.Events.GetByID(ctx, eventID)
		if err != nil {
			r.deps.Logger.Warn("reload event for notifications failed", "event_id", eventID, "error", err)
			continue
		}

		c := notify.Completion{Event: *event, Registrations: group, PaymentReference: ref}
		msg := fmt.Sprintf("%s booked %d place(s)", group[0].Attendee.Name, c.Quantity())
		if amount := c.AmountPaidMinor(); amount > 0 {
			msg += ", paid " + model.FormatPrice(amount, event.Currency)
		}
		if err := r.deps.Activity.Record(ctx, eventID, msg); err != nil {
			r.deps.Logger.Warn("activity log write failed", "event_id", eventID, "error", err)
		}

		err = r.deps.Notifier.Notify(ctx, c)
		r.deps.Metrics.Notification(err)
		if err != nil {
			r.deps.Logger.Warn("booking notification failed", "event_id", eventID, "error", err)
		}
	}
}

func reservationOutcome(err error) string {
	switch {
	case errors.Is(err, repository.ErrCapacityExceeded):
		return metrics.OutcomeSoldOut
	case errors.Is(err, repository.ErrEventUnavailable):
		return metrics.OutcomeClosed
	case errors.Is(err, repository.ErrQuantityLimit):
		return metrics.OutcomeQuantityLimit
	case errors.Is(err, repository.ErrNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
