// Package metrics exposes the ledger's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reservation outcomes.
const (
	OutcomeReserved      = "reserved"
	OutcomeSoldOut       = "sold_out"
	OutcomeClosed        = "closed"
	OutcomeQuantityLimit = "quantity_limit"
	OutcomeNotFound      = "not_found"
	OutcomeError         = "error"
)

// Reconciliation outcomes.
const (
	ReconcileCompleted    = "completed"
	ReconcileDuplicate    = "duplicate"
	ReconcileIncomplete   = "incomplete"
	ReconcileRefunded     = "refunded"
	ReconcileRefundFailed = "refund_failed"
	ReconcileError        = "error"
)

// Metrics holds every collector the service records to.
type Metrics struct {
	registry prometheus.Gatherer

	reservations     *prometheus.CounterVec
	releases         prometheus.Counter
	reconciliations  *prometheus.CounterVec
	refunds          *prometheus.CounterVec
	encryptionErrors prometheus.Counter
	rateLimited      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newWithRegistry(reg)
}

// NewUnregistered returns metrics on a private registry with only the
// ledger collectors. Used by tests and tools.
func NewUnregistered() *Metrics {
	return newWithRegistry(prometheus.NewRegistry())
}

func newWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		reservations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reservations_total",
				Help: "Capacity ledger reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		releases: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_releases_total",
				Help: "Compensating releases of earlier reservations",
			},
		),
		reconciliations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reconciliations_total",
				Help: "Payment confirmations by outcome",
			},
			[]string{"outcome"},
		),
		refunds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_refunds_total",
				Help: "Refund requests sent to the payment gateway by result",
			},
			[]string{"result"},
		),
		encryptionErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_encryption_errors_total",
				Help: "Field encryption or decryption failures",
			},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_notifications_total",
				Help: "Post-booking notifications by result",
			},
			[]string{"result"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Reservation(outcome string) {
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Release() {
	m.releases.Inc()
}

func (m *Metrics) Reconciliation(outcome string) {
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// Refund records a gateway refund. err takes precedence over ok.
func (m *Metrics) Refund(ok bool, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !ok:
		result = "declined"
	}
	m.refunds.WithLabelValues(result).Inc()
}

func (m *Metrics) EncryptionError() {
	m.encryptionErrors.Inc()
}

func (m *Metrics) RateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

// Notification records a best-effort side effect.
func (m *Metrics) Notification(err error) {
	if err != nil {
		m.notifications.WithLabelValues("error").Inc()
		return
	}
	m.notifications.WithLabelValues("ok").Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
