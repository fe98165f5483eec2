package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/booking"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
)

type PaymentService interface {
	CreateCheckout(ctx context.Context, in booking.CheckoutInput) (payments.Session, error)
	HandleStripeEvent(ctx context.Context, evt stripe.Event, raw []byte) (string, error)
}

type EventVerifier interface {
	Configured() bool
	Verify(body []byte, signature string) (stripe.Event, error)
}

type PaymentHandler struct {
	svc      PaymentService
	verifier EventVerifier
	logger   *slog.Logger
}

func NewPaymentHandler(svc PaymentService, verifier EventVerifier, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, verifier: verifier, logger: logger}
}

type checkoutRequest struct {
	CoachID       string `json:"coach_id"`
	ClientID      string `json:"client_id"`
	SessionTypeID string `json:"session_type_id"`
	ScheduledDate string `json:"scheduled_date"`
	ClientEmail   string `json:"client_email"`
	ClientPhone   string `json:"client_phone"`
	Notes         string `json:"notes"`
}

func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	start, err := parseTime(req.ScheduledDate, "scheduled_date")
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	sess, err := h.svc.CreateCheckout(r.Context(), booking.CheckoutInput{
		CoachID:        strings.TrimSpace(req.CoachID),
		ClientID:       strings.TrimSpace(req.ClientID),
		SessionTypeID:  strings.TrimSpace(req.SessionTypeID),
		Start:          start,
		ClientEmail:    strings.TrimSpace(req.ClientEmail),
		ClientPhone:    strings.TrimSpace(req.ClientPhone),
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"checkout_session_id": sess.ID,
		"checkout_url":        sess.URL,
	})
}

// StripeWebhook has no JWT auth; the signature is the auth.
func (h *PaymentHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || !h.verifier.Configured() {
		writeError(h.logger, w, r, apperr.New(apperr.Internal, "stripe webhook not configured"))
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		writeError(h.logger, w, r, apperr.New(apperr.BadRequest, "missing Stripe-Signature header"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(h.logger, w, r, apperr.New(apperr.BadRequest, "failed to read request body"))
		return
	}
	evt, err := h.verifier.Verify(body, sig)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		writeError(h.logger, w, r, apperr.New(apperr.BadRequest, "invalid signature"))
		return
	}
	h.logger.Info("stripe event received", "provider_event_id", evt.ID, "event_type", evt.Type)

	outcome, err := h.svc.HandleStripeEvent(r.Context(), evt, body)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": outcome})
}
