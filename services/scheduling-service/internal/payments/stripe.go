// Package payments wraps Stripe Checkout for paid session types. The booking
// itself is created by the checkout.session.completed webhook, from the
// metadata written here.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
)

var ErrNotConfigured = errors.New("stripe is not configured")

// Metadata keys on the checkout session.
const (
	metaCoachID       = "coach_id"
	metaClientID      = "client_id"
	metaSessionTypeID = "session_type_id"
	metaScheduledDate = "scheduled_date"
	metaDuration      = "duration_minutes"
	metaClientEmail   = "client_email"
	metaClientPhone   = "client_phone"
	metaNotes         = "notes"
)

// Booking is what a completed checkout turns into.
type Booking struct {
	CoachID         string
	ClientID        string
	SessionTypeID   string
	ScheduledDate   time.Time
	DurationMinutes int
	ClientEmail     string
	ClientPhone     string
	Notes           string
}

func (b Booking) metadata() map[string]string {
	m := map[string]string{
		metaCoachID:       b.CoachID,
		metaClientID:      b.ClientID,
		metaSessionTypeID: b.SessionTypeID,
		metaScheduledDate: b.ScheduledDate.UTC().Format(time.RFC3339),
		metaDuration:      strconv.Itoa(b.DurationMinutes),
	}
	if b.ClientEmail != "" {
		m[metaClientEmail] = b.ClientEmail
	}
	if b.ClientPhone != "" {
		m[metaClientPhone] = b.ClientPhone
	}
	if b.Notes != "" {
		// Stripe caps metadata values at 500 characters.
		notes := b.Notes
		if len(notes) > 500 {
			notes = notes[:500]
		}
		m[metaNotes] = notes
	}
	return m
}

// BookingFromMetadata reverses Booking.metadata.
func BookingFromMetadata(m map[string]string) (Booking, error) {
	b := Booking{
		CoachID:       strings.TrimSpace(m[metaCoachID]),
		ClientID:      strings.TrimSpace(m[metaClientID]),
		SessionTypeID: strings.TrimSpace(m[metaSessionTypeID]),
		ClientEmail:   m[metaClientEmail],
		ClientPhone:   m[metaClientPhone],
		Notes:         m[metaNotes],
	}
	if b.CoachID == "" || b.ClientID == "" {
		return Booking{}, errors.New("missing coach_id or client_id metadata")
	}
	start, err := time.Parse(time.RFC3339, m[metaScheduledDate])
	if err != nil {
		return Booking{}, fmt.Errorf("scheduled_date metadata: %w", err)
	}
	b.ScheduledDate = start
	b.DurationMinutes, err = strconv.Atoi(m[metaDuration])
	if err != nil || b.DurationMinutes <= 0 {
		return Booking{}, fmt.Errorf("invalid duration_minutes metadata %q", m[metaDuration])
	}
	return b, nil
}

type CheckoutConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	Currency   string
}

type Checkout struct {
	cfg CheckoutConfig
}

func NewCheckout(cfg CheckoutConfig) *Checkout {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	return &Checkout{cfg: cfg}
}

// LineItem is the priced thing being bought. PriceID wins over an inline
// amount when both are set.
type LineItem struct {
	Name        string
	PriceID     string
	AmountCents int64
}

type Session struct {
	ID  string
	URL string
}

// Create opens a one-off payment checkout carrying b as metadata.
func (c *Checkout) Create(ctx context.Context, item LineItem, b Booking, idempotencyKey string) (Session, error) {
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return Session{}, ErrNotConfigured
	}
	// Stripe uses a global API key.
	stripe.Key = c.cfg.SecretKey

	line := &stripe.CheckoutSessionLineItemParams{Quantity: stripe.Int64(1)}
	if item.PriceID != "" {
		line.Price = stripe.String(item.PriceID)
	} else {
		line.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(c.cfg.Currency),
			UnitAmount: stripe.Int64(item.AmountCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(item.Name),
			},
		}
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.cfg.SuccessURL),
		CancelURL:         stripe.String(c.cfg.CancelURL),
		ClientReferenceID: stripe.String(b.ClientID),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{line},
		Metadata:          b.metadata(),
	}
	if b.ClientEmail != "" {
		params.CustomerEmail = stripe.String(b.ClientEmail)
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
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
	// Events replayed by the CLI or the simulator carry older API versions.
	return webhook.ConstructEventWithOptions(body, signature, v.Secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
