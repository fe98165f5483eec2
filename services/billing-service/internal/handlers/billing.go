package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/httpx"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
)

type Service interface {
	Checkout(ctx context.Context, in subscriptions.CheckoutInput) (subscriptions.CheckoutResult, error)
	CheckoutStatus(ctx context.Context, sessionID string) (subscriptions.CheckoutStatus, error)
	AckCheckoutReturn(ctx context.Context, sessionID, state, result string) error
	Current(ctx context.Context, clientID string) (subscriptions.Overview, error)
	Usage(ctx context.Context, clientID string) (subscriptions.UsageReport, error)
	Cancel(ctx context.Context, clientID, idempotencyKey string) (storage.Subscription, error)
	HandleStripeEvent(ctx context.Context, evt stripe.Event, raw []byte) (string, error)
	ApplyLocal(ctx context.Context, in subscriptions.LocalEvent) (string, error)
}

type EventVerifier interface {
	Configured() bool
	Verify(body []byte, signature string) (stripe.Event, error)
}

type BillingHandler struct {
	svc      Service
	verifier EventVerifier
	logger   *slog.Logger
}

func NewBillingHandler(svc Service, verifier EventVerifier, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{svc: svc, verifier: verifier, logger: logger}
}

func (h *BillingHandler) Plans(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"free":  plans.ForTier(plans.TierFree),
		"plans": plans.Paid(),
	})
}

type checkoutRequest struct {
	Tier       string `json:"tier"`
	Email      string `json:"email"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	res, err := h.svc.Checkout(r.Context(), subscriptions.CheckoutInput{
		Tier:           req.Tier,
		Email:          req.Email,
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"checkout_session_id": res.SessionID,
		"checkout_url":        res.URL,
	})
}

// CheckoutSession backs the public return page; it exposes no client data.
func (h *BillingHandler) CheckoutSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.CheckoutStatus(r.Context(), queryString(r, "session_id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

type ackRequest struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Result    string `json:"result"`
}

func (h *BillingHandler) AckCheckout(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	if err := h.svc.AckCheckoutReturn(r.Context(), req.SessionID, req.State, req.Result); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *BillingHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	ov, err := h.svc.Current(r.Context(), queryString(r, "client_id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ov)
}

func (h *BillingHandler) Usage(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Usage(r.Context(), queryString(r, "client_id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rep)
}

type cancelRequest struct {
	ClientID string `json:"client_id"`
}

func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeError(h.logger, w, r, err)
			return
		}
	}
	sub, err := h.svc.Cancel(r.Context(), req.ClientID, strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sub)
}

// StripeWebhook has no JWT auth; the signature is the auth.
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
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

func (h *BillingHandler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	var evt subscriptions.LocalEvent
	if err := httpx.DecodeJSON(r, &evt); err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	outcome, err := h.svc.ApplyLocal(r.Context(), evt)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": outcome})
}
