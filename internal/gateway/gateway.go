// Package gateway abstracts the hosted-checkout payment providers the
// ledger reconciles against.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/config"
)

// Provider identifies a payment provider implementation.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderFake   Provider = "fake"
)

// Session statuses reported by RetrieveSession.
const (
	StatusOpen     = "open"
	StatusPaid     = "paid"
	StatusUnpaid   = "unpaid"
	StatusExpired  = "expired"
	StatusRefunded = "refunded"
)

// Webhook types that may mean a session has been paid. A completed session
// paid by a delayed method is still unpaid; the later async success event
// carries the payment.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// ConfirmsPayment reports whether a webhook of this type should be
// reconciled against the ledger.
func ConfirmsPayment(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		return true
	default:
		return false
	}
}

var (
	// ErrInvalidSignature is returned by VerifyWebhook when the payload is
	// not signed by the provider.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrSessionNotFound is returned when the provider has no such session.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// CheckoutRequest describes a hosted checkout to open for a booking.
type CheckoutRequest struct {
	AmountMinor int64
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// CheckoutSession is the provider's answer to CreateCheckoutSession.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

// Session is the provider's current view of a checkout session.
type Session struct {
	SessionID        string
	PaymentReference string
	AmountPaidMinor  int64
	Currency         string
	Status           string
	Metadata         map[string]string
}

// IsPaid reports whether the session has been paid.
func (s *Session) IsPaid() bool {
	return s.Status == StatusPaid && s.PaymentReference != ""
}

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// Gateway is implemented by every payment provider.
type Gateway interface {
	// Provider returns the provider type.
	Provider() Provider

	// CreateCheckoutSession opens a hosted checkout for the given amount.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// RetrieveSession fetches the current state of a checkout session.
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)

	// RefundPayment refunds a payment in full. It reports whether the
	// provider accepted the refund.
	RefundPayment(ctx context.Context, paymentReference string) (bool, error)

	// VerifyWebhook authenticates a notification and decodes it.
	VerifyWebhook(payload []byte, header http.Header) (*WebhookEvent, error)
}

// New creates the gateway selected by cfg.PaymentProvider, wrapped in a
// circuit breaker.
func New(cfg *config.Config) (Gateway, error) {
	var gw Gateway
	switch Provider(cfg.PaymentProvider) {
	case ProviderStripe:
		gw = NewStripe(StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			APIBase:       cfg.StripeAPIBase,
		})
	case ProviderFake:
		gw = NewFake(cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", cfg.PaymentProvider)
	}
	return NewBreaker(gw, DefaultBreakerSettings()), nil
}
