package handlers

import (
	"net/http"

	"github.com/purposefullive/coaching-platform/libs/httpx"
)

const prefix = "/api/v1/billing"

func Register(mux *http.ServeMux, h *BillingHandler) {
	mux.Handle(prefix+"/plans", httpx.MethodHandlers{http.MethodGet: h.Plans})
	mux.Handle(prefix+"/checkout", httpx.MethodHandlers{http.MethodPost: h.Checkout})
	mux.Handle(prefix+"/checkout/session", httpx.MethodHandlers{http.MethodGet: h.CheckoutSession})
	mux.Handle(prefix+"/checkout/session/ack", httpx.MethodHandlers{http.MethodPost: h.AckCheckout})
	mux.Handle(prefix+"/subscription", httpx.MethodHandlers{http.MethodGet: h.Subscription})
	mux.Handle(prefix+"/subscription/cancel", httpx.MethodHandlers{http.MethodPost: h.Cancel})
	mux.Handle(prefix+"/usage", httpx.MethodHandlers{http.MethodGet: h.Usage})
	mux.Handle(prefix+"/webhooks/stripe", httpx.MethodHandlers{http.MethodPost: h.StripeWebhook})
	mux.Handle(prefix+"/webhooks/local", httpx.MethodHandlers{http.MethodPost: h.LocalWebhook})
}
