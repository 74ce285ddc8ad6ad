package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/payment"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 64 << 10

type PaymentsAPI interface {
	CreatePaymentSession(ctx context.Context, userID, orderID, returnURL string) (*domain.PaymentSession, error)
	PaymentStatus(ctx context.Context, userID, sessionID string) (reconcile.Result, error)
	HandleProviderUpdate(ctx context.Context, sessionID string) (reconcile.Result, error)
}

type PaymentsHandler struct {
	payments      PaymentsAPI
	webhookSecret string
	timeout       time.Duration
	log           *slog.Logger
}

func NewPaymentsHandler(payments PaymentsAPI, webhookSecret string, timeout time.Duration, log *slog.Logger) *PaymentsHandler {
	return &PaymentsHandler{payments: payments, webhookSecret: webhookSecret, timeout: timeout, log: log}
}

type CreateSessionRequestDTO struct {
	OrderID   string `json:"order_id"`
	ReturnURL string `json:"return_url"`
}

func (h *PaymentsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req CreateSessionRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, h.log, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id is required")
		return
	}

	session, err := h.payments.CreatePaymentSession(ctx, p.UserID, req.OrderID, req.ReturnURL)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// Status runs one reconciliation step. Clients poll it after returning from checkout.
func (h *PaymentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, ok := principal(w, r)
	if !ok {
		return
	}

	res, err := h.payments.PaymentStatus(ctx, p.UserID, chi.URLParam(r, "session_id"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// StripeWebhook reacts to checkout session events pushed by Stripe. Events
// are accepted only with a valid signature, and only name the session to
// reconcile. Anything that a redelivery cannot fix is acknowledged with 200.
func (h *PaymentsHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if h.webhookSecret == "" {
		h.log.ErrorContext(ctx, "webhook received but no signing secret is configured")
		respondError(w, http.StatusServiceUnavailable, "webhook_disabled", "webhook endpoint is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "unreadable body")
		return
	}

	event, err := payment.ConstructWebhookEvent(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret)
	if errors.Is(err, payment.ErrInvalidSignature) {
		h.log.WarnContext(ctx, "rejected webhook", "error", err)
		respondError(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sessionID, ok := event.SessionEvent()
	if !ok {
		h.log.DebugContext(ctx, "ignoring webhook event", "event_id", event.ID, "type", event.Type)
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	res, err := h.payments.HandleProviderUpdate(ctx, sessionID)
	switch {
	case err == nil:
		h.log.InfoContext(ctx, "webhook applied", "event_id", event.ID, "session_id", sessionID, "outcome", res.Outcome)
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrInvalidTransition):
		h.log.WarnContext(ctx, "webhook not applied", "event_id", event.ID, "session_id", sessionID, "error", err)
	default:
		handleError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
