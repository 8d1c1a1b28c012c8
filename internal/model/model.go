// Package model defines the core domain types for the ticket ledger.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event represents a bookable, capacity-bounded event.
type Event struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	SlugIndex      string     `json:"-"`
	Capacity       int        `json:"capacity"`
	BookedQuantity int        `json:"booked_quantity"`
	MaxQuantity    int        `json:"max_quantity"`
	UnitPriceMinor *int64     `json:"unit_price_minor,omitempty"`
	Currency       string     `json:"currency"`
	ClosesAt       *time.Time `json:"closes_at,omitempty"`
	Active         bool       `json:"active"`
	WebhookURL     string     `json:"webhook_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Remaining returns the number of available places.
func (e *Event) Remaining() int {
	if r := e.Capacity - e.BookedQuantity; r > 0 {
		return r
	}
	return 0
}

// IsFull returns true when no places remain.
func (e *Event) IsFull() bool {
	return e.BookedQuantity >= e.Capacity
}

// IsFree reports whether the event has no price.
func (e *Event) IsFree() bool {
	return e.UnitPriceMinor == nil || *e.UnitPriceMinor == 0
}

// IsClosed reports whether registration has closed at now.
func (e *Event) IsClosed(now time.Time) bool {
	return e.ClosesAt != nil && !now.Before(*e.ClosesAt)
}

// Price returns the unit price in minor units, zero for free events.
func (e *Event) Price() int64 {
	if e.UnitPriceMinor == nil {
		return 0
	}
	return *e.UnitPriceMinor
}

// Attendee holds the personal fields of a registration. Every field is
// encrypted at rest.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Notes string `json:"notes,omitempty"`
}

// Registration represents a confirmed booking of Quantity places.
type Registration struct {
	ID               string     `json:"id"`
	EventID          string     `json:"event_id"`
	Quantity         int        `json:"quantity"`
	Attendee         Attendee   `json:"attendee"`
	PaymentReference *string    `json:"payment_reference,omitempty"`
	PricePaidMinor   *int64     `json:"price_paid_minor,omitempty"`
	TicketToken      string     `json:"ticket_token"`
	TicketTokenIndex string     `json:"-"`
	CheckedIn        bool       `json:"checked_in"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	Refunded         bool       `json:"refunded"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsPaid reports whether the registration came from a payment.
func (r *Registration) IsPaid() bool {
	return r.PaymentReference != nil
}

// PaymentPhase is the lifecycle state of a processed payment.
type PaymentPhase string

const (
	PhaseProcessing PaymentPhase = "processing"
	PhaseCompleted  PaymentPhase = "completed"
	PhaseFailed     PaymentPhase = "failed"
)

// PaymentItem is one event line a payment was charged for.
type PaymentItem struct {
	EventID        string `json:"event_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// Total returns the line total in minor units.
func (i PaymentItem) Total() int64 {
	return i.UnitPriceMinor * int64(i.Quantity)
}

// ProcessedPayment records that a payment reference has been claimed for
// reconciliation.
type ProcessedPayment struct {
	PaymentReference string        `json:"payment_reference"`
	Phase            PaymentPhase  `json:"phase"`
	Items            []PaymentItem `json:"items"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// ActivityEntry is one line of an event's activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name           string     `json:"name"`
	Capacity       int        `json:"capacity"`
	MaxQuantity    int        `json:"max_quantity"`
	UnitPriceMinor *int64     `json:"unit_price_minor"`
	Currency       string     `json:"currency"`
	ClosesAt       *time.Time `json:"closes_at"`
	WebhookURL     string     `json:"webhook_url"`
}

// UpdateEventRequest changes the mutable settings of an event. Nil fields
// are left untouched.
type UpdateEventRequest struct {
	Capacity       *int       `json:"capacity"`
	MaxQuantity    *int       `json:"max_quantity"`
	UnitPriceMinor *int64     `json:"unit_price_minor"`
	ClearPrice     bool       `json:"clear_price"`
	ClosesAt       *time.Time `json:"closes_at"`
	ClearClosesAt  bool       `json:"clear_closes_at"`
	Active         *bool      `json:"active"`
	WebhookURL     *string    `json:"webhook_url"`
}

// BookingItem selects a quantity of one event.
type BookingItem struct {
	EventID  string `json:"event_id"`
	Quantity int    `json:"quantity"`
}

// BookingRequest is the payload for booking one or more events together.
type BookingRequest struct {
	Items    []BookingItem `json:"items"`
	Attendee Attendee      `json:"attendee"`
}

// RegisterRequest is the payload for booking a single event.
type RegisterRequest struct {
	Quantity int      `json:"quantity"`
	Attendee Attendee `json:"attendee"`
}

// BookingOutcome is the result of a booking request. Free bookings carry
// Registrations; paid bookings carry a checkout redirect instead.
type BookingOutcome struct {
	Registrations []Registration `json:"registrations,omitempty"`
	CheckoutURL   string         `json:"checkout_url,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// BookingResult summarises the outcome of a single registration attempt.
// Used by the concurrent booking tests.
type BookingResult struct {
	Quantity int
	Success  bool
	Error    error
}

// FormatMinor renders an amount in minor units as a fixed two-decimal
// string, e.g. 1050 -> "10.50".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// FormatPrice renders an amount with its currency code.
func FormatPrice(amount int64, currency string) string {
	return FormatMinor(amount) + " " + currency
}
