package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = gobreaker.ErrOpenState

	// ErrTooManyRequests is returned when the half-open trial budget is spent.
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// DefaultBreakerSettings trips after five consecutive failures and lets a
// trial call through after thirty seconds.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
}

// Breaker decorates a Gateway with a circuit breaker around its network
// calls. VerifyWebhook is local and passes straight through.
type Breaker struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker wraps next. Answers from a healthy provider, such as an unknown
// session, do not count as failures.
func NewBreaker(next Gateway, settings gobreaker.Settings) *Breaker {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = isSuccess
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func isSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrSessionNotFound)
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Unwrap returns the decorated gateway.
func (b *Breaker) Unwrap() Gateway { return b.next }

func (b *Breaker) Provider() Provider { return b.next.Provider() }

func (b *Breaker) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	return execute(b, func() (*CheckoutSession, error) {
		return b.next.CreateCheckoutSession(ctx, req)
	})
}

func (b *Breaker) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	return execute(b, func() (*Session, error) {
		return b.next.RetrieveSession(ctx, sessionID)
	})
}

func (b *Breaker) RefundPayment(ctx context.Context, paymentReference string) (bool, error) {
	return execute(b, func() (bool, error) {
		return b.next.RefundPayment(ctx, paymentReference)
	})
}

func (b *Breaker) VerifyWebhook(payload []byte, header http.Header) (*WebhookEvent, error) {
	return b.next.VerifyWebhook(payload, header)
}

func execute[T any](b *Breaker, call func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return call()
	})
	out, _ := res.(T)
	return out, err
}
