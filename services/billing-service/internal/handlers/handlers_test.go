package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/provider"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeService struct {
	checkoutIn subscriptions.CheckoutInput
	cancelKey  string
	cancelFor  string
	currentFor string
	ackResult  string
	stripeIDs  []string
	local      []subscriptions.LocalEvent
	err        error
}

func (f *fakeService) Checkout(_ context.Context, in subscriptions.CheckoutInput) (subscriptions.CheckoutResult, error) {
	f.checkoutIn = in
	if f.err != nil {
		return subscriptions.CheckoutResult{}, f.err
	}
	return subscriptions.CheckoutResult{SessionID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (f *fakeService) CheckoutStatus(_ context.Context, sessionID string) (subscriptions.CheckoutStatus, error) {
	if sessionID == "" {
		return subscriptions.CheckoutStatus{}, apperr.New(apperr.BadRequest, "session_id is required")
	}
	return subscriptions.CheckoutStatus{SessionID: sessionID, Tier: plans.TierAIBasic, Status: "completed"}, nil
}

func (f *fakeService) AckCheckoutReturn(_ context.Context, _, _, result string) error {
	f.ackResult = result
	return f.err
}

func (f *fakeService) Current(_ context.Context, clientID string) (subscriptions.Overview, error) {
	f.currentFor = clientID
	return subscriptions.Overview{ClientID: "client-1", Tier: plans.TierFree, Status: plans.StatusNone, Plan: plans.ForTier(plans.TierFree)}, f.err
}

func (f *fakeService) Usage(context.Context, string) (subscriptions.UsageReport, error) {
	return subscriptions.UsageReport{Month: "2026-05", AIMessagesUsed: 12, AIMessagesLimit: 100, AIMessagesRemaining: 88}, f.err
}

func (f *fakeService) Cancel(_ context.Context, clientID, key string) (storage.Subscription, error) {
	f.cancelFor, f.cancelKey = clientID, key
	return storage.Subscription{ClientID: "client-1", Status: plans.StatusCanceled}, f.err
}

func (f *fakeService) HandleStripeEvent(_ context.Context, evt stripe.Event, _ []byte) (string, error) {
	f.stripeIDs = append(f.stripeIDs, evt.ID)
	return subscriptions.WebhookProcessed, nil
}

func (f *fakeService) ApplyLocal(_ context.Context, in subscriptions.LocalEvent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.local = append(f.local, in)
	return subscriptions.WebhookProcessed, nil
}

func newMux(svc Service, verifier EventVerifier) *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux, NewBillingHandler(svc, verifier, testLogger()))
	return mux
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Code
}

func TestPlansEndpoint(t *testing.T) {
	mux := newMux(&fakeService{}, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/billing/plans", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Free  plans.Plan   `json:"free"`
		Plans []plans.Plan `json:"plans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Free.Tier != plans.TierFree || len(body.Plans) != 6 || body.Plans[0].Tier != plans.TierAIBasic {
		t.Fatalf("unexpected plans: %+v", body)
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	svc := &fakeService{}
	mux := newMux(svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout",
		strings.NewReader(`{"tier":"ai_premium","success_url":" https://app/ok ","cancel_url":"https://app/cancel"}`))
	req.Header.Set("Idempotency-Key", "k1")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.checkoutIn.Tier != "ai_premium" || svc.checkoutIn.SuccessURL != "https://app/ok" || svc.checkoutIn.IdempotencyKey != "k1" {
		t.Fatalf("unexpected input: %+v", svc.checkoutIn)
	}
	if !strings.Contains(rr.Body.String(), `"checkout_url":"https://checkout.example/cs_1"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestCheckoutErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
		want string
	}{
		{apperr.New(apperr.Unauthorized, "missing identity"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{apperr.New(apperr.Forbidden, "only clients can subscribe"), http.StatusForbidden, "FORBIDDEN"},
		{apperr.New(apperr.BadRequest, "an active subscription already exists"), http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		mux := newMux(&fakeService{err: tc.err}, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{"tier":"ai_basic"}`)))
		if rr.Code != tc.code || decodeError(t, rr) != tc.want {
			t.Fatalf("err %v: got %d %s", tc.err, rr.Code, rr.Body.String())
		}
	}
}

func TestCheckoutSessionAndAck(t *testing.T) {
	svc := &fakeService{}
	mux := newMux(svc, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/billing/checkout/session?session_id=cs_1", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"completed"`) {
		t.Fatalf("unexpected status response %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/billing/checkout/session", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session_id, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout/session/ack",
		strings.NewReader(`{"session_id":"cs_1","state":"tok","result":"success"}`)))
	if rr.Code != http.StatusOK || svc.ackResult != "success" {
		t.Fatalf("ack failed %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSubscriptionAndUsage(t *testing.T) {
	svc := &fakeService{}
	mux := newMux(svc, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscription?client_id=client-9", nil))
	if rr.Code != http.StatusOK || svc.currentFor != "client-9" {
		t.Fatalf("unexpected %d for %q: %s", rr.Code, svc.currentFor, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/billing/usage", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ai_messages_remaining":88`) {
		t.Fatalf("unexpected usage %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/usage", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestCancelAcceptsEmptyBody(t *testing.T) {
	svc := &fakeService{}
	mux := newMux(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/subscription/cancel", nil)
	req.Header.Set("Idempotency-Key", "cancel-1")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || svc.cancelKey != "cancel-1" || svc.cancelFor != "" {
		t.Fatalf("unexpected cancel %d key=%q for=%q", rr.Code, svc.cancelKey, svc.cancelFor)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/subscription/cancel", strings.NewReader(`{"client_id":"client-2"}`)))
	if rr.Code != http.StatusOK || svc.cancelFor != "client-2" {
		t.Fatalf("client_id not forwarded: %d %q", rr.Code, svc.cancelFor)
	}
}

func TestStripeWebhook(t *testing.T) {
	verifier := provider.WebhookVerifier{Secret: "whsec_test", Tolerance: 5 * time.Minute}
	svc := &fakeService{}
	mux := newMux(svc, verifier)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rr.Code)
	}

	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: verifier.Secret})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(svc.stripeIDs) != 1 || svc.stripeIDs[0] != "evt_1" {
		t.Fatalf("event not forwarded: %v", svc.stripeIDs)
	}
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	mux := newMux(&fakeService{}, provider.WebhookVerifier{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=x")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestLocalWebhook(t *testing.T) {
	svc := &fakeService{}
	mux := newMux(svc, nil)
	body := `{"event_id":"e1","type":"subscription.activated","client_id":"client-1","tier":"ai_basic","occurred_at":"2026-05-01T00:00:00Z"}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/local", strings.NewReader(body)))
	if rr.Code != http.StatusOK || len(svc.local) != 1 || svc.local[0].Tier != "ai_basic" {
		t.Fatalf("unexpected %d: %s", rr.Code, rr.Body.String())
	}

	svc.err = apperr.New(apperr.Forbidden, "admin access required")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/local", strings.NewReader(body)))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
