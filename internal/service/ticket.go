package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/fieldcrypt"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// Ticket is a registration together with the event it admits to.
type Ticket struct {
	Registration model.Registration `json:"registration"`
	Event        model.Event        `json:"event"`
}

// RefundResult reports an admin refund.
type RefundResult struct {
	PaymentReference string `json:"payment_reference"`
	Registrations    int64  `json:"registrations_refunded"`
}

// TicketService looks tickets up by token, checks them in and refunds them.
type TicketService struct {
	deps Deps
}

// NewTicketService constructs a TicketService.
func NewTicketService(d Deps) *TicketService {
	return &TicketService{deps: d.withDefaults()}
}

// Lookup resolves a ticket token through its blind index.
func (s *TicketService) Lookup(ctx context.Context, token string) (*Ticket, error) {
	token = fieldcrypt.Canonical(token)
	if token == "" {
		return nil, repository.ErrNotFound
	}
	index, err := s.deps.Crypt.BlindIndex(token)
	if err != nil {
		recordEncryptionError(s.deps, err, "ticket token indexing failed")
		return nil, fmt.Errorf("index ticket token: %w", err)
	}

	reg, err := s.deps.Ledger.GetByTokenIndex(ctx, index)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		recordEncryptionError(s.deps, err, "registration decryption failed")
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(reg.TicketToken), []byte(token)) != 1 {
		return nil, repository.ErrNotFound
	}

	event, err := s.deps.Events.GetByID(ctx, reg.EventID)
	if err != nil {
		return nil, fmt.Errorf("get ticket event: %w", err)
	}
	return &Ticket{Registration: *reg, Event: *event}, nil
}

// CheckIn admits the holder of token. Only the first check-in succeeds.
func (s *TicketService) CheckIn(ctx context.Context, token string) (*Ticket, error) {
	ticket, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	reg, err := s.deps.Ledger.CheckIn(ctx, ticket.Registration.ID, s.deps.Now())
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyCheckedIn) || errors.Is(err, repository.ErrRefunded) {
			s.deps.Logger.Info("check-in refused", "registration_id", ticket.Registration.ID, "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("check in: %w", err)
	}
	ticket.Registration = *reg

	s.deps.Logger.Info("ticket checked in", "registration_id", reg.ID, "event_id", reg.EventID)
	msg := fmt.Sprintf("%s checked in (%d place(s))", reg.Attendee.Name, reg.Quantity)
	if err := s.deps.Activity.Record(ctx, reg.EventID, msg); err != nil {
		s.deps.Logger.Warn("activity log write failed", "event_id", reg.EventID, "error", err)
	}
	return ticket, nil
}

// RefundRegistration refunds the whole payment behind a registration and
// flags every registration it paid for. The places stay booked.
func (s *TicketService) RefundRegistration(ctx context.Context, registrationID string) (*RefundResult, error) {
	if !validID(registrationID) {
		return nil, repository.ErrNotFound
	}
	reg, err := s.deps.Ledger.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	if !reg.IsPaid() {
		return nil, ErrNotPaid
	}
	if reg.Refunded {
		return nil, repository.ErrRefunded
	}
	ref := *reg.PaymentReference

	ok, err := s.deps.Gateway.RefundPayment(ctx, ref)
	s.deps.Metrics.Refund(ok, err)
	if err != nil || !ok {
		s.deps.Logger.Error("admin refund failed", "payment_reference", ref, "accepted", ok, "error", err)
		return nil, errors.Join(ErrRefundFailed, err)
	}

	n, err := s.deps.Ledger.MarkRefunded(ctx, ref)
	if err != nil {
		s.deps.Logger.Error("refund issued but registrations not flagged", "payment_reference", ref, "error", err)
		return nil, fmt.Errorf("mark refunded: %w", err)
	}

	s.deps.Logger.Info("payment refunded by admin", "payment_reference", ref, "registrations", n)
	msg := fmt.Sprintf("Payment %s refunded by admin", ref)
	if reg.PricePaidMinor != nil {
		msg += fmt.Sprintf(" (%s for %s)", model.FormatMinor(*reg.PricePaidMinor), reg.Attendee.Name)
	}
	if err := s.deps.Activity.Record(ctx, reg.EventID, msg); err != nil {
		s.deps.Logger.Warn("activity log write failed", "event_id", reg.EventID, "error", err)
	}
	return &RefundResult{PaymentReference: ref, Registrations: n}, nil
}
