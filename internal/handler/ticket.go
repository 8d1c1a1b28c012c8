package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/service"
)

// TicketHandler serves ticket lookup, check-in and admin refunds.
type TicketHandler struct {
	tickets *service.TicketService
	logger  *slog.Logger
}

// NewTicketHandler constructs a TicketHandler.
func NewTicketHandler(tickets *service.TicketService, logger *slog.Logger) *TicketHandler {
	return &TicketHandler{tickets: tickets, logger: logger}
}

// Lookup handles GET /tickets/{token}
func (h *TicketHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.Lookup(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, h.logger, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// CheckIn handles POST /admin/tickets/{token}/check-in
func (h *TicketHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.tickets.CheckIn(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(w, h.logger, err, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// Refund handles POST /admin/registrations/{id}/refund
func (h *TicketHandler) Refund(w http.ResponseWriter, r *http.Request) {
	res, err := h.tickets.RefundRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, err, "registration not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
