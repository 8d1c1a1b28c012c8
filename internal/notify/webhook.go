package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// WebhookNotifier POSTs a JSON completion message to the event's webhook
// URL. Events without a URL are skipped.
type WebhookNotifier struct {
	hc  *http.Client
	now func() time.Time
}

// NewWebhookNotifier creates a notifier whose requests time out after
// timeout.
func NewWebhookNotifier(timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		hc:  &http.Client{Timeout: timeout},
		now: time.Now,
	}
}

type webhookAttendee struct {
	RegistrationID string `json:"registration_id"`
	Quantity       int    `json:"quantity"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

type webhookPayload struct {
	Type             string            `json:"type"`
	EventID          string            `json:"event_id"`
	EventName        string            `json:"event_name"`
	Quantity         int               `json:"quantity"`
	Remaining        int               `json:"remaining"`
	AmountPaid       string            `json:"amount_paid,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Attendees        []webhookAttendee `json:"attendees"`
	SentAt           time.Time         `json:"sent_at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, c Completion) error {
	if c.Event.WebhookURL == "" {
		return nil
	}

	payload := webhookPayload{
		Type:             EventRegistrationCompleted,
		EventID:          c.Event.ID,
		EventName:        c.Event.Name,
		Quantity:         c.Quantity(),
		Remaining:        c.Event.Remaining(),
		PaymentReference: c.PaymentReference,
		SentAt:           w.now().UTC(),
	}
	if amount := c.AmountPaidMinor(); amount > 0 {
		payload.AmountPaid = decimal.New(amount, -2).StringFixed(2)
		payload.Currency = c.Event.Currency
	}
	for _, r := range c.Registrations {
		payload.Attendees = append(payload.Attendees, webhookAttendee{
			RegistrationID: r.ID,
			Quantity:       r.Quantity,
			Name:           r.Attendee.Name,
			Email:          r.Attendee.Email,
			Phone:          r.Attendee.Phone,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Event.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ticket-ledger-webhook/1")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook delivery: status %d", resp.StatusCode)
	}
	return nil
}
