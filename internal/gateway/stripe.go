package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureTolerance is how far a webhook timestamp may drift from now.
const SignatureTolerance = webhook.DefaultTolerance

// StripeConfig holds the credentials for the Stripe API.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIBase       string
	HTTPClient    *http.Client
	// MaxNetworkRetries overrides the SDK's retry count when set.
	MaxNetworkRetries *int64
	Logger            *slog.Logger
}

// Stripe adapts the stripe-go SDK to Gateway.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

// NewStripe creates a Stripe gateway.
func NewStripe(cfg StripeConfig) *Stripe {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        hc,
		LeveledLogger:     stripeLogger{logger},
		MaxNetworkRetries: cfg.MaxNetworkRetries,
	}
	if base := strings.TrimRight(cfg.APIBase, "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Stripe{
		api:           client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (s *Stripe) Provider() Provider { return ProviderStripe }

// CreateCheckoutSession opens a one-line hosted checkout for the total amount.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError("stripe create session", err)
	}
	return &CheckoutSession{SessionID: cs.ID, RedirectURL: cs.URL}, nil
}

// RetrieveSession fetches a checkout session and normalises its status.
func (s *Stripe) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	cs, err := s.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, stripeError("stripe retrieve session", err)
	}

	status := StatusOpen
	switch {
	case cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusPaid
	case cs.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusExpired
	case cs.Status == stripe.CheckoutSessionStatusComplete:
		status = StatusUnpaid
	}

	var ref string
	if cs.PaymentIntent != nil {
		ref = cs.PaymentIntent.ID
	}
	return &Session{
		SessionID:        cs.ID,
		PaymentReference: ref,
		AmountPaidMinor:  cs.AmountTotal,
		Currency:         strings.ToUpper(string(cs.Currency)),
		Status:           status,
		Metadata:         cs.Metadata,
	}, nil
}

// RefundPayment refunds a payment intent in full.
func (s *Stripe) RefundPayment(ctx context.Context, paymentReference string) (bool, error) {
	r, err := s.api.Refunds.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentReference),
	})
	if err != nil {
		return false, stripeError("stripe refund", err)
	}
	switch r.Status {
	case stripe.RefundStatusSucceeded, stripe.RefundStatusPending:
		return true, nil
	default:
		return false, nil
	}
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
func (s *Stripe) VerifyWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil && len(ev.Data.Raw) > 0 {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return nil, fmt.Errorf("decode webhook object: %w", err)
		}
		out.SessionID = obj.ID
	}
	return out, nil
}

// verifySignature validates a "t=<unix>,v1=<hex>" header against secret.
func verifySignature(payload []byte, header, secret string) error {
	if header == "" || secret == "" {
		return ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// SignPayload builds a Stripe-Signature header value for payload.
func SignPayload(payload []byte, secret string, at time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(webhook.ComputeSignature(at, payload, secret)))
}

func stripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%s: status %d: %s", op, se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// stripeLogger routes SDK log lines through slog.
type stripeLogger struct{ l *slog.Logger }

func (s stripeLogger) Debugf(format string, v ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (s stripeLogger) Infof(format string, v ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (s stripeLogger) Warnf(format string, v ...interface{}) {
	s.l.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (s stripeLogger) Errorf(format string, v ...interface{}) {
	s.l.Error(fmt.Sprintf(format, v...), "component", "stripe")
}
