package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
)

// ConfirmResult describes what a payment confirmation did.
type ConfirmResult struct {
	SessionID        string
	PaymentReference string
	Registrations    []model.Registration
	// Refunded is set when the booking could not be honoured and the payment
	// was returned.
	Refunded bool
}

// PaymentStatus is the ledger's view of a checkout session.
type PaymentStatus struct {
	SessionID        string
	PaymentReference string
	Phase            model.PaymentPhase
	Registrations    []model.Registration
}

// ReconcileService applies payment confirmations to the ledger exactly once.
// Webhooks and redirect polls both end up in Confirm.
type ReconcileService struct {
	deps     Deps
	reserver *reserver
}

// NewReconcileService constructs a ReconcileService.
func NewReconcileService(d Deps) *ReconcileService {
	d = d.withDefaults()
	return &ReconcileService{deps: d, reserver: newReserver(d)}
}

// Confirm fetches the session, claims its payment reference and books what
// was paid for. The claim makes every later delivery for the same payment
// return ErrAlreadyProcessed.
//
// Once claimed, any failure to book refunds the payment in full and marks
// it failed. A refund that does not go through is reported with
// ErrRefundFailed joined to the cause.
func (s *ReconcileService) Confirm(ctx context.Context, sessionID string) (*ConfirmResult, error) {
	sess, err := s.deps.Gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		s.deps.Metrics.Reconciliation(metrics.ReconcileError)
		return nil, fmt.Errorf("retrieve session: %w", err)
	}
	if !sess.IsPaid() {
		// Our own compensating refund flips the session; a later delivery
		// must still see the claim.
		if sess.Status == gateway.StatusRefunded && sess.PaymentReference != "" {
			if _, err := s.deps.Payments.Get(ctx, sess.PaymentReference); err == nil {
				s.deps.Metrics.Reconciliation(metrics.ReconcileDuplicate)
				return &ConfirmResult{SessionID: sess.SessionID, PaymentReference: sess.PaymentReference}, ErrAlreadyProcessed
			}
		}
		s.deps.Metrics.Reconciliation(metrics.ReconcileIncomplete)
		s.deps.Logger.Info("session not paid", "session_id", sessionID, "status", sess.Status)
		return nil, ErrPaymentIncomplete
	}
	ref := sess.PaymentReference
	result := &ConfirmResult{SessionID: sess.SessionID, PaymentReference: ref}

	items, attendee, decodeErr := s.decodeMetadata(sess.Metadata)

	claimed, err := s.deps.Payments.Claim(ctx, ref, items)
	if err != nil {
		s.deps.Metrics.Reconciliation(metrics.ReconcileError)
		return nil, fmt.Errorf("claim payment: %w", err)
	}
	if !claimed {
		s.deps.Metrics.Reconciliation(metrics.ReconcileDuplicate)
		s.deps.Logger.Info("payment already processed", "payment_reference", ref, "session_id", sessionID)
		return result, ErrAlreadyProcessed
	}

	if decodeErr != nil {
		recordEncryptionError(s.deps, decodeErr, "checkout metadata decryption failed", "payment_reference", ref)
		return s.fail(ctx, result, items, decodeErr)
	}
	if err := s.revalidate(ctx, sess, items); err != nil {
		return s.fail(ctx, result, items, err)
	}

	regs, err := s.reserver.reserveAll(ctx, items, attendee, &ref)
	if err != nil {
		return s.fail(ctx, result, items, err)
	}
	result.Registrations = regs

	if err := s.deps.Payments.SetPhase(ctx, ref, model.PhaseCompleted); err != nil {
		s.deps.Logger.Error("mark payment completed failed", "payment_reference", ref, "error", err)
	}
	s.deps.Metrics.Reconciliation(metrics.ReconcileCompleted)
	s.deps.Logger.Info("payment reconciled",
		"payment_reference", ref, "session_id", sessionID, "registrations", len(regs),
		"amount", model.FormatPrice(sess.AmountPaidMinor, sess.Currency))

	s.reserver.afterBooking(ctx, regs, ref)
	return result, nil
}

// revalidate checks the payment against the events as they are now. Every
// line must still cost what it cost at checkout, and the lines must add up
// to the amount paid.
func (s *ReconcileService) revalidate(ctx context.Context, sess *gateway.Session, items []model.PaymentItem) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: payment carries no items", ErrInvalidBooking)
	}
	var expected int64
	for _, item := range items {
		event, err := s.deps.Events.GetByID(ctx, item.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: event %s no longer exists", ErrPriceMismatch, item.EventID)
			}
			return fmt.Errorf("load event: %w", err)
		}
		if event.Price() != item.UnitPriceMinor {
			return fmt.Errorf("%w: event %s now costs %s, paid %s", ErrPriceMismatch, event.ID,
				model.FormatMinor(event.Price()), model.FormatMinor(item.UnitPriceMinor))
		}
		if !event.IsFree() && sess.Currency != "" && event.Currency != sess.Currency {
			return fmt.Errorf("%w: event %s is priced in %s, paid in %s", ErrPriceMismatch, event.ID, event.Currency, sess.Currency)
		}
		expected += event.Price() * int64(item.Quantity)
	}
	if expected != sess.AmountPaidMinor {
		return fmt.Errorf("%w: expected %s, paid %s", ErrPriceMismatch,
			model.FormatMinor(expected), model.FormatMinor(sess.AmountPaidMinor))
	}
	return nil
}

// fail refunds the claimed payment and records it as failed.
func (s *ReconcileService) fail(ctx context.Context, result *ConfirmResult, items []model.PaymentItem, cause error) (*ConfirmResult, error) {
	ref := result.PaymentReference

	ok, refundErr := s.deps.Gateway.RefundPayment(ctx, ref)
	s.deps.Metrics.Refund(ok, refundErr)

	if err := s.deps.Payments.SetPhase(ctx, ref, model.PhaseFailed); err != nil {
		s.deps.Logger.Error("mark payment failed failed", "payment_reference", ref, "error", err)
	}

	if refundErr != nil || !ok {
		s.deps.Metrics.Reconciliation(metrics.ReconcileRefundFailed)
		s.deps.Logger.Error("compensating refund failed",
			"payment_reference", ref, "cause", cause, "error", refundErr, "accepted", ok)
		s.recordActivity(ctx, items, fmt.Sprintf("Payment %s could not be honoured and the refund failed: %v", ref, cause))
		return result, errors.Join(cause, ErrRefundFailed, refundErr)
	}

	result.Refunded = true
	s.deps.Metrics.Reconciliation(metrics.ReconcileRefunded)
	s.deps.Logger.Warn("payment refunded", "payment_reference", ref, "cause", cause)
	s.recordActivity(ctx, items, fmt.Sprintf("Payment %s refunded: %v", ref, cause))
	return result, cause
}

func (s *ReconcileService) recordActivity(ctx context.Context, items []model.PaymentItem, msg string) {
	for _, item := range items {
		if err := s.deps.Activity.Record(ctx, item.EventID, msg); err != nil {
			s.deps.Logger.Warn("activity log write failed", "event_id", item.EventID, "error", err)
		}
	}
}

// decodeMetadata reverses BookingService.encodeMetadata. Items decoded
// before an attendee field fails are still returned so the claim records
// them.
func (s *ReconcileService) decodeMetadata(meta map[string]string) ([]model.PaymentItem, model.Attendee, error) {
	var (
		items    []model.PaymentItem
		attendee model.Attendee
	)
	raw, ok := meta[metaItems]
	if !ok {
		return nil, attendee, fmt.Errorf("%w: checkout metadata has no items", ErrInvalidBooking)
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, attendee, fmt.Errorf("%w: decode items: %v", ErrInvalidBooking, err)
	}
	for _, item := range items {
		if !validID(item.EventID) || item.Quantity < 1 || item.UnitPriceMinor < 0 {
			return items, attendee, fmt.Errorf("%w: malformed item in checkout metadata", ErrInvalidBooking)
		}
	}

	fields := []struct {
		key string
		dst *string
	}{
		{metaAttendeeName, &attendee.Name},
		{metaAttendeeEmail, &attendee.Email},
		{metaAttendeePhone, &attendee.Phone},
		{metaAttendeeNotes, &attendee.Notes},
	}
	for _, f := range fields {
		plain, err := s.deps.Crypt.DecryptOptional(meta[f.key])
		if err != nil {
			return items, attendee, fmt.Errorf("decrypt %s: %w", f.key, err)
		}
		*f.dst = plain
	}
	if attendee.Name == "" {
		return items, attendee, fmt.Errorf("%w: checkout metadata has no attendee", ErrInvalidBooking)
	}
	return items, attendee, nil
}

// Status reports how far the ledger has got with a checkout session. It is
// what the redirect page shows when another delivery already claimed the
// payment.
func (s *ReconcileService) Status(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	sess, err := s.deps.Gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve session: %w", err)
	}
	if !sess.IsPaid() && sess.Status != gateway.StatusRefunded {
		return nil, ErrPaymentIncomplete
	}
	status := &PaymentStatus{SessionID: sess.SessionID, PaymentReference: sess.PaymentReference}

	payment, err := s.deps.Payments.Get(ctx, sess.PaymentReference)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return status, nil
	case err != nil:
		return nil, fmt.Errorf("get payment: %w", err)
	}
	status.Phase = payment.Phase

	regs, err := s.deps.Ledger.ListByPaymentReference(ctx, sess.PaymentReference)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	status.Registrations = regs
	return status, nil
}
