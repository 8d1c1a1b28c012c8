package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/ratelimit"
)

// Rate-limit scopes.
const (
	ScopeBooking = "booking"
	ScopePayment = "payment"
)

// RouterConfig carries what NewRouter mounts.
type RouterConfig struct {
	Events   *EventHandler
	Payments *PaymentHandler
	Tickets  *TicketHandler

	Metrics *metrics.Metrics
	// Limiter is optional. Without it nothing is rate limited.
	Limiter    *ratelimit.Limiter
	AdminToken string
	Logger     *slog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(RequestLogger(cfg.Logger, cfg.Metrics))
	r.Use(CORS)

	limit := func(scope string) func(http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.Limiter.Middleware(scope)
	}

	r.Get("/health", HealthCheck)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/events", func(r chi.Router) {
		r.Get("/", cfg.Events.ListEvents)
		r.Get("/{id}", cfg.Events.GetEvent)
		r.With(limit(ScopeBooking)).Post("/{id}/register", cfg.Events.Register)
	})
	r.Get("/e/{slug}", cfg.Events.GetEventBySlug)
	r.With(limit(ScopeBooking)).Post("/bookings", cfg.Events.Book)

	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", cfg.Payments.Webhook)
		r.With(limit(ScopePayment)).Get("/return", cfg.Payments.Return)
	})
	r.Get("/tickets/{token}", cfg.Tickets.Lookup)

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireAdmin(cfg.AdminToken))
		r.Post("/events", cfg.Events.CreateEvent)
		r.Patch("/events/{id}", cfg.Events.UpdateEvent)
		r.Get("/events/{id}/registrations", cfg.Events.ListRegistrations)
		r.Get("/events/{id}/activity", cfg.Events.Activity)
		r.Post("/tickets/{token}/check-in", cfg.Tickets.CheckIn)
		r.Post("/registrations/{id}/refund", cfg.Tickets.Refund)
	})

	return r
}
