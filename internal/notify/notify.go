// Package notify delivers best-effort side effects after a booking
// completes: organiser webhooks and realtime availability updates.
package notify

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
)

// EventRegistrationCompleted is the type carried by every completion message.
const EventRegistrationCompleted = "registration.completed"

// Completion describes the registrations a booking created for one event.
type Completion struct {
	Event            model.Event
	Registrations    []model.Registration
	PaymentReference string
}

// Quantity returns the number of places booked.
func (c Completion) Quantity() int {
	n := 0
	for _, r := range c.Registrations {
		n += r.Quantity
	}
	return n
}

// AmountPaidMinor returns the sum of the recorded prices.
func (c Completion) AmountPaidMinor() int64 {
	var total int64
	for _, r := range c.Registrations {
		if r.PricePaidMinor != nil {
			total += *r.PricePaidMinor
		}
	}
	return total
}

// Notifier is implemented by every delivery channel.
type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// Multi fans a completion out to several notifiers. Every notifier runs even
// when an earlier one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, c Completion) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards completions.
type Nop struct{}

func (Nop) Notify(context.Context, Completion) error { return nil }
