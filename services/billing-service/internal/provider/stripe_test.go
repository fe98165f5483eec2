package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestMapStatus(t *testing.T) {
	cases := map[stripe.SubscriptionStatus]string{
		stripe.SubscriptionStatusTrialing:          plans.StatusTrialing,
		stripe.SubscriptionStatusActive:            plans.StatusActive,
		stripe.SubscriptionStatusPastDue:           plans.StatusPastDue,
		stripe.SubscriptionStatusCanceled:          plans.StatusCanceled,
		stripe.SubscriptionStatusIncompleteExpired: plans.StatusCanceled,
		stripe.SubscriptionStatusUnpaid:            plans.StatusUnpaid,
		stripe.SubscriptionStatusIncomplete:        plans.StatusUnpaid,
	}
	for in, want := range cases {
		if got := MapStatus(in); got != want {
			t.Fatalf("MapStatus(%q) = %q want %q", in, got, want)
		}
	}
}

func TestSnapshotOf(t *testing.T) {
	sub := &stripe.Subscription{
		ID:                 "sub_1",
		Status:             stripe.SubscriptionStatusTrialing,
		Customer:           &stripe.Customer{ID: "cus_1"},
		CurrentPeriodStart: 1767225600,
		CurrentPeriodEnd:   1769904000,
		TrialEnd:           1767830400,
		Metadata:           map[string]string{MetaClientID: " client-1 ", MetaTier: "AI_Elite", MetaCoachID: "coach-1"},
	}
	snap := SnapshotOf(sub)
	if snap.ClientID != "client-1" || snap.Tier != plans.TierAIElite || snap.CoachID != "coach-1" {
		t.Fatalf("metadata not normalized: %+v", snap)
	}
	if snap.CustomerID != "cus_1" || snap.Status != plans.StatusTrialing {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.PeriodStart == nil || !snap.PeriodStart.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("period start = %v", snap.PeriodStart)
	}
	if snap.CanceledAt != nil {
		t.Fatalf("canceled_at should be nil, got %v", snap.CanceledAt)
	}
	if got := SnapshotOf(nil); got.ID != "" {
		t.Fatalf("nil subscription produced %+v", got)
	}
}

func TestUnconfiguredStripe(t *testing.T) {
	s := NewStripe(Config{})
	if s.Configured() {
		t.Fatalf("expected unconfigured")
	}
	if _, err := s.CreateCheckout(context.Background(), CheckoutRequest{Tier: plans.TierAIBasic}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := s.Fetch(context.Background(), "sub_1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCheckoutRequiresPrice(t *testing.T) {
	s := NewStripe(Config{SecretKey: "sk_test_x", Prices: map[string]string{plans.TierAIBasic: "price_1"}})
	if _, err := s.CreateCheckout(context.Background(), CheckoutRequest{Tier: plans.TierHumanElite}); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestCheckoutRequiresReturnURLs(t *testing.T) {
	s := NewStripe(Config{SecretKey: "sk_test_x", Prices: map[string]string{plans.TierAIBasic: "price_1"}})
	if _, err := s.CreateCheckout(context.Background(), CheckoutRequest{Tier: plans.TierAIBasic, SuccessURL: "https://app/ok"}); !errors.Is(err, ErrNoReturnURL) {
		t.Fatalf("expected ErrNoReturnURL, got %v", err)
	}
}

func TestWithQueryParam(t *testing.T) {
	if got := withQueryParam("https://app/done", "state", "a b"); got != "https://app/done?state=a+b" {
		t.Fatalf("got %q", got)
	}
	if got := withQueryParam("https://app/done?x=1", "state", "t"); got != "https://app/done?x=1&state=t" {
		t.Fatalf("got %q", got)
	}
}

func TestWebhookVerifier(t *testing.T) {
	v := WebhookVerifier{Secret: "whsec_test", Tolerance: 5 * time.Minute}
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.subscription.updated","api_version":"2024-06-20","data":{"object":{"id":"sub_1"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: v.Secret})

	evt, err := v.Verify(signed.Payload, signed.Header)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if evt.ID != "evt_1" {
		t.Fatalf("event id = %q", evt.ID)
	}
	if _, err := v.Verify(signed.Payload, "t=1,v1=deadbeef"); err == nil {
		t.Fatalf("expected bad signature to fail")
	}
	if _, err := (WebhookVerifier{}).Verify(signed.Payload, signed.Header); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
