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
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/booking"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSlots struct {
	gotDate     time.Time
	gotDuration int
	slots       []time.Time
	available   bool
	err         error
}

func (f *fakeSlots) Location() *time.Location { return time.UTC }

func (f *fakeSlots) AvailableSlots(_ context.Context, _ string, date time.Time, d int) ([]time.Time, error) {
	f.gotDate, f.gotDuration = date, d
	return f.slots, f.err
}

func (f *fakeSlots) IsTimeSlotAvailable(context.Context, string, time.Time, int) (bool, error) {
	return f.available, f.err
}

func (f *fakeSlots) WeeklyAvailability(context.Context, string, int) (availability.WeeklyCapacity, error) {
	return availability.WeeklyCapacity{TotalMinutes: 480, TotalCapacity: 8, BookedCount: 3, RemainingSpots: 5}, f.err
}

type fakeSessions struct {
	SessionService
	bookIn   booking.BookInput
	replayed bool
	err      error
}

func (f *fakeSessions) Book(_ context.Context, in booking.BookInput) (model.Session, bool, error) {
	f.bookIn = in
	if f.err != nil {
		return model.Session{}, false, f.err
	}
	return model.Session{
		ID:              "s1",
		CoachID:         in.CoachID,
		ClientID:        "client-1",
		ScheduledDate:   in.Start,
		DurationMinutes: in.DurationMinutes,
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentNotRequired,
	}, f.replayed, nil
}

type fakePayments struct {
	events []string
}

func (f *fakePayments) CreateCheckout(context.Context, booking.CheckoutInput) (payments.Session, error) {
	return payments.Session{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (f *fakePayments) HandleStripeEvent(_ context.Context, evt stripe.Event, _ []byte) (string, error) {
	f.events = append(f.events, evt.ID)
	return booking.WebhookProcessed, nil
}

func newMux(slots SlotService, sessions SessionService, pay PaymentService, verifier EventVerifier) *http.ServeMux {
	mux := http.NewServeMux()
	Register(mux,
		NewSlotHandler(slots, testLogger(), 60),
		NewSessionHandler(sessions, testLogger(), 0),
		NewCalendarHandler(nil, testLogger()),
		NewPaymentHandler(pay, verifier, testLogger()),
	)
	return mux
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Code, body.Error.Message
}

func TestSlotsEndpoint(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	fake := &fakeSlots{slots: []time.Time{base, base.Add(30 * time.Minute)}}
	mux := newMux(fake, &fakeSessions{}, &fakePayments{}, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scheduling/slots?coach_id=c1&date=2026-03-02&duration=45", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out slotsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Slots) != 2 || out.Slots[0] != "2026-03-02T09:00:00Z" || out.Slots[1] != "2026-03-02T09:30:00Z" {
		t.Fatalf("unexpected slots %v", out.Slots)
	}
	if fake.gotDuration != 45 || !fake.gotDate.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("service called with %v/%d", fake.gotDate, fake.gotDuration)
	}
}

func TestSlotsEmptyIsArray(t *testing.T) {
	mux := newMux(&fakeSlots{slots: []time.Time{}}, &fakeSessions{}, &fakePayments{}, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scheduling/slots?coach_id=c1&date=2026-03-08", nil))
	if !strings.Contains(rr.Body.String(), `"slots":[]`) {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestSlotsRejectsBadInput(t *testing.T) {
	mux := newMux(&fakeSlots{}, &fakeSessions{}, &fakePayments{}, nil)
	for _, target := range []string{
		"/api/v1/scheduling/slots?coach_id=c1&date=03/02/2026",
		"/api/v1/scheduling/slots?coach_id=c1&date=2026-03-02&duration=abc",
		"/api/v1/scheduling/check?coach_id=c1&start=tomorrow",
	} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
		if code, _ := decodeError(t, rr); code != string(apperr.BadRequest) {
			t.Fatalf("%s: unexpected code %s", target, code)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newMux(&fakeSlots{}, &fakeSessions{}, &fakePayments{}, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/slots", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	mux := newMux(&fakeSlots{available: true}, &fakeSessions{}, &fakePayments{}, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scheduling/check?coach_id=c1&start=2026-03-02T10:00:00Z&duration=60", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"available":true`) {
		t.Fatalf("unexpected response %d %s", rr.Code, rr.Body.String())
	}
}

func TestBookEndpoint(t *testing.T) {
	sessions := &fakeSessions{}
	mux := newMux(&fakeSlots{}, sessions, &fakePayments{}, nil)

	body := `{"coach_id":"c1","scheduled_date":"2026-03-02T10:00:00Z","duration_minutes":60,"client_email":" a@example.com "}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/sessions", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "k1")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if sessions.bookIn.IdempotencyKey != "k1" || sessions.bookIn.ClientEmail != "a@example.com" {
		t.Fatalf("unexpected input %+v", sessions.bookIn)
	}
	var out sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.EndsAt != "2026-03-02T11:00:00Z" || out.Status != model.StatusScheduled {
		t.Fatalf("unexpected session %+v", out)
	}

	sessions.replayed = true
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/sessions", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rr.Code)
	}
}

func TestBookConflictIsBadRequest(t *testing.T) {
	sessions := &fakeSessions{err: booking.ErrSlotUnavailable}
	mux := newMux(&fakeSlots{}, sessions, &fakePayments{}, nil)
	body := `{"coach_id":"c1","scheduled_date":"2026-03-02T10:00:00Z","duration_minutes":60}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/sessions", strings.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	code, msg := decodeError(t, rr)
	if code != string(apperr.BadRequest) || msg != "this time slot is no longer available" {
		t.Fatalf("unexpected error %s %q", code, msg)
	}
}

func TestBookRejectsUnknownFields(t *testing.T) {
	mux := newMux(&fakeSlots{}, &fakeSessions{}, &fakePayments{}, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/sessions", strings.NewReader(`{"coach":"c1"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	sessions := &fakeSessions{err: io.ErrUnexpectedEOF}
	mux := newMux(&fakeSlots{}, sessions, &fakePayments{}, nil)
	body := `{"coach_id":"c1","scheduled_date":"2026-03-02T10:00:00Z","duration_minutes":60}`
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/sessions", strings.NewReader(body)))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if _, msg := decodeError(t, rr); msg != "internal server error" {
		t.Fatalf("internal error leaked: %q", msg)
	}
}

func TestStripeWebhook(t *testing.T) {
	verifier := payments.WebhookVerifier{Secret: "whsec_test", Tolerance: 5 * time.Minute}
	pay := &fakePayments{}
	mux := newMux(&fakeSlots{}, &fakeSessions{}, pay, verifier)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/webhooks/stripe", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with bad signature, got %d", rr.Code)
	}

	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: verifier.Secret})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/scheduling/webhooks/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(pay.events) != 1 || pay.events[0] != "evt_1" {
		t.Fatalf("event not forwarded: %v", pay.events)
	}
}
