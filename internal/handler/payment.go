package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Shivanand-hulikatti/ticket-ledger/internal/gateway"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/model"
	"github.com/Shivanand-hulikatti/ticket-ledger/internal/service"
)

// Payment states reported to the buyer.
const (
	paymentCompleted  = "completed"
	paymentProcessing = "processing"
	paymentRefunded   = "refunded"
	paymentFailed     = "failed"
)

// paymentResponse is what the redirect page receives.
type paymentResponse struct {
	Status           string               `json:"status"`
	SessionID        string               `json:"session_id"`
	PaymentReference string               `json:"payment_reference,omitempty"`
	Registrations    []model.Registration `json:"registrations"`
	Refunded         bool                 `json:"refunded"`
	Error            string               `json:"error,omitempty"`
}

// PaymentHandler receives provider webhooks and buyers returning from
// checkout. Both feed the same confirmation.
type PaymentHandler struct {
	reconcile *service.ReconcileService
	gateway   gateway.Gateway
	logger    *slog.Logger
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(reconcile *service.ReconcileService, gw gateway.Gateway, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{reconcile: reconcile, gateway: gw, logger: logger}
}

// Webhook handles POST /payments/webhook
// The signature is checked before anything touches the ledger. Anything the
// provider should not retry is acknowledged with 200.
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	event, err := h.gateway.VerifyWebhook(payload, r.Header)
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if !gateway.ConfirmsPayment(event.Type) {
		h.logger.Debug("webhook ignored", "type", event.Type, "id", event.ID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	res, err := h.reconcile.Confirm(r.Context(), event.SessionID)
	switch {
	case err == nil,
		errors.Is(err, service.ErrAlreadyProcessed),
		errors.Is(err, service.ErrPaymentIncomplete):
	case res != nil:
		// Claimed and settled by refund or logged refund failure. A retry
		// would only find it already processed.
		h.logger.Warn("webhook payment not honoured", "session_id", event.SessionID, "refunded", res.Refunded, "error", err)
	default:
		h.logger.Error("webhook confirmation failed", "session_id", event.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Return handles GET /payments/return?session_id=
// It confirms the payment if the webhook has not yet, and otherwise shows
// what the earlier confirmation produced.
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	res, err := h.reconcile.Confirm(r.Context(), sessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, paymentResponse{
			Status:           paymentCompleted,
			SessionID:        res.SessionID,
			PaymentReference: res.PaymentReference,
			Registrations:    nonNil(res.Registrations),
		})
	case errors.Is(err, service.ErrAlreadyProcessed):
		h.writeStatus(w, r, sessionID)
	case res != nil:
		resp := paymentResponse{
			Status:           paymentFailed,
			SessionID:        res.SessionID,
			PaymentReference: res.PaymentReference,
			Registrations:    []model.Registration{},
			Refunded:         res.Refunded,
			Error:            msgNoLongerAvailable,
		}
		if res.Refunded {
			resp.Status = paymentRefunded
		}
		status := http.StatusConflict
		if errors.Is(err, service.ErrRefundFailed) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, resp)
	default:
		writeServiceError(w, h.logger, err, "checkout session not found")
	}
}

func (h *PaymentHandler) writeStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := h.reconcile.Status(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, h.logger, err, "checkout session not found")
		return
	}

	resp := paymentResponse{
		SessionID:        st.SessionID,
		PaymentReference: st.PaymentReference,
		Registrations:    nonNil(st.Registrations),
	}
	switch st.Phase {
	case model.PhaseCompleted:
		resp.Status = paymentCompleted
		writeJSON(w, http.StatusOK, resp)
	case model.PhaseFailed:
		resp.Status = paymentFailed
		resp.Error = msgNoLongerAvailable
		writeJSON(w, http.StatusConflict, resp)
	default:
		resp.Status = paymentProcessing
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func nonNil(regs []model.Registration) []model.Registration {
	if regs == nil {
		return []model.Registration{}
	}
	return regs
}
