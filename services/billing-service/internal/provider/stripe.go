// Package provider talks to Stripe for subscription checkout and lifecycle.
package provider

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

var (
	ErrNotConfigured = errors.New("stripe is not configured")
	ErrNoPrice       = errors.New("no stripe price configured for tier")
	ErrNoReturnURL   = errors.New("success and cancel urls are required")
)

// Metadata keys on checkout sessions and subscriptions.
const (
	MetaClientID = "client_id"
	MetaCoachID  = "coach_id"
	MetaTier     = "tier"
)

type Config struct {
	SecretKey string
	// Prices maps a tier to its recurring Stripe price id.
	Prices     map[string]string
	SuccessURL string
	CancelURL  string
	TrialDays  int64
}

type Stripe struct {
	cfg Config
}

func NewStripe(cfg Config) *Stripe {
	if cfg.Prices == nil {
		cfg.Prices = map[string]string{}
	}
	return &Stripe{cfg: cfg}
}

func (s *Stripe) Configured() bool {
	return strings.TrimSpace(s.cfg.SecretKey) != ""
}

func (s *Stripe) key() error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	// Stripe uses a global API key.
	stripe.Key = s.cfg.SecretKey
	return nil
}

type CheckoutRequest struct {
	ClientID   string
	CoachID    string
	Tier       string
	Email      string
	SuccessURL string
	CancelURL  string
	// Trial grants the configured trial period; only first subscriptions get one.
	Trial bool
	// ReturnToken is appended to both return urls as the state parameter.
	ReturnToken    string
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string
	URL string
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if err := s.key(); err != nil {
		return CheckoutSession{}, err
	}
	priceID := strings.TrimSpace(s.cfg.Prices[req.Tier])
	if priceID == "" {
		return CheckoutSession{}, ErrNoPrice
	}
	successURL := firstNonEmpty(req.SuccessURL, s.cfg.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, s.cfg.CancelURL)
	if successURL == "" || cancelURL == "" {
		return CheckoutSession{}, ErrNoReturnURL
	}
	if req.ReturnToken != "" {
		successURL = withQueryParam(successURL, "state", req.ReturnToken)
		cancelURL = withQueryParam(cancelURL, "state", req.ReturnToken)
	}

	meta := map[string]string{
		MetaClientID: req.ClientID,
		MetaTier:     req.Tier,
	}
	if req.CoachID != "" {
		meta[MetaCoachID] = req.CoachID
	}
	subData := &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta}
	if req.Trial && s.cfg.TrialDays > 0 {
		subData.TrialPeriodDays = stripe.Int64(s.cfg.TrialDays)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.ClientID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Metadata:         meta,
		SubscriptionData: subData,
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// Snapshot is the subset of a Stripe subscription billing cares about.
type Snapshot struct {
	ID                string
	CustomerID        string
	ClientID          string
	CoachID           string
	Tier              string
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	TrialEnd          *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

func (s *Stripe) Cancel(ctx context.Context, subscriptionID, idempotencyKey string) (Snapshot, error) {
	if err := s.key(); err != nil {
		return Snapshot{}, err
	}
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	sub, err := stripesubscription.Cancel(subscriptionID, params)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(sub), nil
}

func (s *Stripe) Fetch(ctx context.Context, subscriptionID string) (Snapshot, error) {
	if err := s.key(); err != nil {
		return Snapshot{}, err
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripesubscription.Get(subscriptionID, params)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(sub), nil
}

func SnapshotOf(sub *stripe.Subscription) Snapshot {
	if sub == nil {
		return Snapshot{}
	}
	snap := Snapshot{
		ID:                sub.ID,
		ClientID:          strings.TrimSpace(sub.Metadata[MetaClientID]),
		CoachID:           strings.TrimSpace(sub.Metadata[MetaCoachID]),
		Tier:              strings.ToLower(strings.TrimSpace(sub.Metadata[MetaTier])),
		Status:            MapStatus(sub.Status),
		PeriodStart:       unixTime(sub.CurrentPeriodStart),
		PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
		TrialEnd:          unixTime(sub.TrialEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	return snap
}

// MapStatus folds Stripe's lifecycle into the statuses billing stores.
func MapStatus(status stripe.SubscriptionStatus) string {
	switch status {
	case stripe.SubscriptionStatusTrialing:
		return plans.StatusTrialing
	case stripe.SubscriptionStatusActive:
		return plans.StatusActive
	case stripe.SubscriptionStatusPastDue:
		return plans.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return plans.StatusCanceled
	default:
		return plans.StatusUnpaid
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func withQueryParam(rawURL, key, value string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + key + "=" + url.QueryEscape(value)
}

// WebhookVerifier checks the Stripe-Signature header of a delivery.
type WebhookVerifier struct {
	Secret    string
	Tolerance time.Duration
}

func (v WebhookVerifier) Configured() bool {
	return strings.TrimSpace(v.Secret) != ""
}

func (v WebhookVerifier) Verify(body []byte, signature string) (stripe.Event, error) {
	if !v.Configured() {
		return stripe.Event{}, ErrNotConfigured
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return webhook.ConstructEventWithOptions(body, signature, v.Secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
