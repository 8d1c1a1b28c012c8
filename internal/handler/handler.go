// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/identifier"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/repository"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/service"
)

// User-visible booking failures.
const (
	msgSoldOut            = "sold out"
	msgRegistrationClosed = "registration closed"
	msgNoLongerAvailable  = "no longer available"
)

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps a service error onto a status and message.
// Unexpected errors are logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, service.ErrInvalidBooking),
		errors.Is(err, service.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, gateway.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, repository.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, msgSoldOut)
	case errors.Is(err, repository.ErrEventUnavailable):
		writeError(w, http.StatusConflict, msgRegistrationClosed)
	case errors.Is(err, repository.ErrQuantityLimit):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrAlreadyCheckedIn),
		errors.Is(err, repository.ErrRefunded),
		errors.Is(err, repository.ErrCapacityBelowBooked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNotPaid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrPaymentIncomplete):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, gateway.ErrCircuitOpen),
		errors.Is(err, gateway.ErrTooManyRequests):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, please try again shortly")
	case errors.Is(err, service.ErrRefundFailed):
		logger.Error("refund failed", "error", err)
		writeError(w, http.StatusBadGateway, "refund could not be issued")
	case errors.Is(err, identifier.ErrExhausted):
		logger.Error("identifier generation exhausted", "error", err)
		writeError(w, http.StatusServiceUnavailable, "please try again")
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
