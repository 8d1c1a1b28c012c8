package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/service"
)

// EventHandler serves the public event and booking routes and the admin
// event routes.
type EventHandler struct {
	events  *service.EventService
	booking *service.BookingService
	logger  *slog.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *service.EventService, booking *service.BookingService, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, booking: booking, logger: logger}
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// GetEventBySlug handles GET /e/{slug}
func (h *EventHandler) GetEventBySlug(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.GetEventBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Register handles POST /events/{id}/register
// Free events are booked immediately; paid events return a checkout URL.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := h.booking.Register(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}
	writeBookingOutcome(w, out)
}

// Book handles POST /bookings
// Books several events at once, all or nothing.
func (h *EventHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req model.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	out, err := h.booking.Book(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}
	writeBookingOutcome(w, out)
}

func writeBookingOutcome(w http.ResponseWriter, out *model.BookingOutcome) {
	if out.CheckoutURL != "" {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// CreateEvent handles POST /admin/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// UpdateEvent handles PATCH /admin/events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.UpdateEvent(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// ListRegistrations handles GET /admin/events/{id}/registrations
func (h *EventHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.events.ListRegistrations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}

	if regs == nil {
		regs = []model.Registration{}
	}

	writeJSON(w, http.StatusOK, regs)
}

// Activity handles GET /admin/events/{id}/activity?limit=
func (h *EventHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.events.Activity(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err, "event not found")
		return
	}

	if entries == nil {
		entries = []model.ActivityEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}
