package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyGateway fails RetrieveSession while err is set.
type flakyGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *flakyGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *flakyGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *flakyGateway) Provider() Provider { return ProviderFake }

func (g *flakyGateway) CreateCheckoutSession(context.Context, CheckoutRequest) (*CheckoutSession, error) {
	return &CheckoutSession{SessionID: "cs"}, nil
}

func (g *flakyGateway) RetrieveSession(_ context.Context, id string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &Session{SessionID: id}, nil
}

func (g *flakyGateway) RefundPayment(context.Context, string) (bool, error) {
	return true, nil
}

func (g *flakyGateway) VerifyWebhook([]byte, http.Header) (*WebhookEvent, error) {
	return &WebhookEvent{}, nil
}

const testBreakerTimeout = 50 * time.Millisecond

func newTestBreaker(next Gateway) *Breaker {
	return NewBreaker(next, gobreaker.Settings{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     testBreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
	})
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	next := &flakyGateway{err: errors.New("connection refused")}
	b := newTestBreaker(next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.RetrieveSession(ctx, "cs")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.RetrieveSession(ctx, "cs")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, next.callCount())

	require.Eventually(t, func() bool {
		return b.State() == gobreaker.StateHalfOpen
	}, time.Second, testBreakerTimeout/5)

	next.setErr(nil)
	sess, err := b.RetrieveSession(ctx, "cs")
	require.NoError(t, err)
	assert.Equal(t, "cs", sess.SessionID)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	next := &flakyGateway{err: errors.New("timeout")}
	b := newTestBreaker(next)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.RetrieveSession(ctx, "cs")
	}
	require.Eventually(t, func() bool {
		return b.State() == gobreaker.StateHalfOpen
	}, time.Second, testBreakerTimeout/5)

	_, err := b.RetrieveSession(ctx, "cs")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, b.State())
}

func TestBreaker_NotFoundIsNotAFailure(t *testing.T) {
	next := &flakyGateway{err: ErrSessionNotFound}
	b := newTestBreaker(next)

	for i := 0; i < 10; i++ {
		sess, err := b.RetrieveSession(context.Background(), "cs")
		assert.ErrorIs(t, err, ErrSessionNotFound)
		assert.Nil(t, sess)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_PassesThrough(t *testing.T) {
	b := NewBreaker(&flakyGateway{}, DefaultBreakerSettings())
	ok, err := b.RefundPayment(context.Background(), "pi")
	require.NoError(t, err)
	assert.True(t, ok)

	cs, err := b.CreateCheckoutSession(context.Background(), CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, "cs", cs.SessionID)

	_, err = b.VerifyWebhook(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderFake, b.Provider())
	assert.Equal(t, "closed", b.State().String())
}
