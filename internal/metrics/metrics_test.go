package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := NewUnregistered()

	m.Reservation(OutcomeReserved)
	m.Reservation(OutcomeReserved)
	m.Reservation(OutcomeSoldOut)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.reservations.WithLabelValues(OutcomeReserved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues(OutcomeSoldOut)))

	m.Release()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releases))

	m.Reconciliation(ReconcileDuplicate)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliations.WithLabelValues(ReconcileDuplicate)))

	m.EncryptionError()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.encryptionErrors))

	m.RateLimited("bookings")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("bookings")))
}

func TestRefundResults(t *testing.T) {
	m := NewUnregistered()
	m.Refund(true, nil)
	m.Refund(false, nil)
	m.Refund(true, errors.New("timeout"))

	for _, result := range []string{"ok", "declined", "error"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.refunds.WithLabelValues(result)), result)
	}
}

func TestNotificationResults(t *testing.T) {
	m := NewUnregistered()
	m.Notification(nil)
	m.Notification(errors.New("webhook down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Reservation(OutcomeReserved)
	m.ObserveRequest(http.MethodGet, "/events", http.StatusOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ledger_reservations_total{outcome="reserved"} 1`)
	assert.Contains(t, string(body), "ledger_http_request_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}
