package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FakeWebhookSecret signs notifications accepted by the fake provider.
const FakeWebhookSecret = "whsec_fake"

// Fake is an in-memory provider for development and tests. Sessions created
// while AutoPay is set are paid immediately.
type Fake struct {
	baseURL string

	mu           sync.Mutex
	autoPay      bool
	sessions     map[string]*Session
	refunds      []string
	refundOK     bool
	refundErr    error
	createErr    error
	retrieveErr  error
	retrieveHits int
}

// NewFake creates a fake gateway whose checkout pages redirect back to
// baseURL.
func NewFake(baseURL string) *Fake {
	return &Fake{
		baseURL:  strings.TrimRight(baseURL, "/"),
		autoPay:  true,
		sessions: make(map[string]*Session),
		refundOK: true,
	}
}

func (f *Fake) Provider() Provider { return ProviderFake }

// SetAutoPay controls whether new sessions are paid on creation.
func (f *Fake) SetAutoPay(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoPay = on
}

// SetRefundResult makes later refunds return ok and err.
func (f *Fake) SetRefundResult(ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundOK, f.refundErr = ok, err
}

// SetCreateError makes later CreateCheckoutSession calls fail.
func (f *Fake) SetCreateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

// SetRetrieveError makes later RetrieveSession calls fail.
func (f *Fake) SetRetrieveError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveErr = err
}

func (f *Fake) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}

	id := "cs_fake_" + uuid.NewString()
	s := &Session{
		SessionID:       id,
		AmountPaidMinor: req.AmountMinor,
		Currency:        strings.ToUpper(req.Currency),
		Status:          StatusOpen,
		Metadata:        maps.Clone(req.Metadata),
	}
	if f.autoPay {
		f.pay(s)
	}
	f.sessions[id] = s

	q := url.Values{}
	q.Set("session_id", id)
	q.Set("amount", decimal.New(req.AmountMinor, -2).StringFixed(2))
	q.Set("currency", s.Currency)
	return &CheckoutSession{
		SessionID:   id,
		RedirectURL: f.baseURL + "/payments/return?" + q.Encode(),
	}, nil
}

// MarkPaid pays an open session and returns its payment reference.
func (f *Fake) MarkPaid(sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	if s.Status != StatusPaid {
		f.pay(s)
	}
	return s.PaymentReference, nil
}

func (f *Fake) pay(s *Session) {
	s.Status = StatusPaid
	s.PaymentReference = "pi_fake_" + uuid.NewString()
}

func (f *Fake) RetrieveSession(_ context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveHits++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := *s
	out.Metadata = maps.Clone(s.Metadata)
	return &out, nil
}

func (f *Fake) RefundPayment(_ context.Context, paymentReference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return false, f.refundErr
	}
	if !f.refundOK {
		return false, nil
	}
	f.refunds = append(f.refunds, paymentReference)
	for _, s := range f.sessions {
		if s.PaymentReference == paymentReference {
			s.Status = StatusRefunded
		}
	}
	return true, nil
}

// Refunds returns the payment references refunded so far.
func (f *Fake) Refunds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refunds...)
}

// RetrieveCount returns how many times RetrieveSession was called.
func (f *Fake) RetrieveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retrieveHits
}

// VerifyWebhook accepts payloads signed with FakeWebhookSecret in the
// Stripe-Signature format.
func (f *Fake) VerifyWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	if err := verifySignature(payload, header.Get("Stripe-Signature"), FakeWebhookSecret); err != nil {
		return nil, err
	}
	var ev struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	return &WebhookEvent{ID: ev.ID, Type: ev.Type, SessionID: ev.SessionID}, nil
}
