package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/provider"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
)

// Webhook outcomes.
const (
	WebhookProcessed = "ok"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// HandleStripeEvent applies one verified Stripe delivery. Replays are
// recognised by event id and change nothing.
func (s *Service) HandleStripeEvent(ctx context.Context, evt stripe.Event, raw []byte) (string, error) {
	occurredAt := time.Unix(evt.Created, 0).UTC()
	if evt.Created <= 0 {
		occurredAt = s.now().UTC()
	}
	outcome := WebhookIgnored
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := s.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       string(evt.Type),
			Payload:         raw,
		})
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			outcome = WebhookDuplicate
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.audit(ctx, tx, "billing.provider.stripe.webhook", "provider", "", "", map[string]any{
			"provider_event_id": evt.ID,
			"event_type":        string(evt.Type),
			"occurred_at":       occurredAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		if evt.Data == nil {
			return nil
		}
		applied, err := s.dispatchStripe(ctx, tx, evt, occurredAt)
		if applied {
			outcome = WebhookProcessed
		}
		return err
	})
	if err != nil {
		return "", err
	}
	if outcome == WebhookDuplicate {
		s.logger.Info("stripe event duplicate ignored", "provider_event_id", evt.ID, "event_type", evt.Type)
	}
	return outcome, nil
}

func (s *Service) dispatchStripe(ctx context.Context, tx pgx.Tx, evt stripe.Event, occurredAt time.Time) (bool, error) {
	switch evt.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			s.logger.Error("stripe: invalid checkout session payload", "provider_event_id", evt.ID, "err", err)
			return false, nil
		}
		if cs.Mode != stripe.CheckoutSessionModeSubscription {
			return false, nil
		}
		c, ok := changeFromCheckout(&cs, occurredAt)
		if !ok {
			s.logger.Warn("stripe: checkout session missing client_id or tier metadata", "checkout_id", cs.ID)
			return false, nil
		}
		if err := s.repo.MarkCheckoutSessionCompleted(ctx, tx, cs.ID, occurredAt, c.StripeCustomerID, c.StripeSubscriptionID); err != nil {
			return false, err
		}
		return true, s.Apply(ctx, tx, c)

	case "checkout.session.expired":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			s.logger.Error("stripe: invalid checkout session payload", "provider_event_id", evt.ID, "err", err)
			return false, nil
		}
		return true, s.repo.MarkCheckoutSessionExpired(ctx, tx, cs.ID, occurredAt)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			s.logger.Error("stripe: invalid subscription payload", "provider_event_id", evt.ID, "err", err)
			return false, nil
		}
		snap := provider.SnapshotOf(&sub)
		if evt.Type == "customer.subscription.deleted" {
			snap.Status = plans.StatusCanceled
		}
		if snap.ClientID == "" {
			known, found, err := s.repo.FindByStripeSubscription(ctx, tx, snap.ID)
			if err != nil || !found {
				s.logger.Warn("stripe: subscription for unknown client", "stripe_subscription_id", snap.ID)
				return false, err
			}
			snap.ClientID = known.ClientID
		}
		return true, s.Apply(ctx, tx, ChangeFromSnapshot(snap, occurredAt))

	case "invoice.payment_failed", "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			s.logger.Error("stripe: invalid invoice payload", "provider_event_id", evt.ID, "err", err)
			return false, nil
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return false, nil
		}
		known, found, err := s.repo.FindByStripeSubscription(ctx, tx, inv.Subscription.ID)
		if err != nil || !found {
			return false, err
		}
		status := invoiceStatus(known.Status, evt.Type == "invoice.payment_succeeded")
		if status == known.Status {
			return false, nil
		}
		return true, s.Apply(ctx, tx, Change{ClientID: known.ClientID, Status: status, CancelAtPeriodEnd: known.CancelAtPeriodEnd, OccurredAt: occurredAt})
	}
	return false, nil
}

// invoiceStatus moves an entitled subscription to past_due on a failed
// payment and a lapsed one back to active on a successful payment.
func invoiceStatus(current string, paid bool) string {
	switch {
	case paid && (current == plans.StatusPastDue || current == plans.StatusUnpaid):
		return plans.StatusActive
	case !paid && plans.Entitled(current):
		return plans.StatusPastDue
	}
	return current
}

func changeFromCheckout(cs *stripe.CheckoutSession, occurredAt time.Time) (Change, bool) {
	c := Change{
		ClientID:   strings.TrimSpace(cs.Metadata[provider.MetaClientID]),
		CoachID:    strings.TrimSpace(cs.Metadata[provider.MetaCoachID]),
		Tier:       strings.ToLower(strings.TrimSpace(cs.Metadata[provider.MetaTier])),
		Provider:   "stripe",
		OccurredAt: occurredAt,
	}
	if c.ClientID == "" {
		c.ClientID = strings.TrimSpace(cs.ClientReferenceID)
	}
	if c.ClientID == "" || c.Tier == "" {
		return Change{}, false
	}
	c.Email = cs.CustomerEmail
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		c.Email = cs.CustomerDetails.Email
	}
	if cs.Customer != nil {
		c.StripeCustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		c.StripeSubscriptionID = cs.Subscription.ID
		// An expanded subscription carries its real status and period.
		if cs.Subscription.Status != "" {
			snap := provider.SnapshotOf(cs.Subscription)
			c.Status = snap.Status
			c.PeriodStart, c.PeriodEnd, c.TrialEnd = snap.PeriodStart, snap.PeriodEnd, snap.TrialEnd
		}
	}
	return c, true
}

// ChangeFromSnapshot turns Stripe's view of a subscription into a Change.
func ChangeFromSnapshot(snap provider.Snapshot, occurredAt time.Time) Change {
	return Change{
		ClientID:             snap.ClientID,
		CoachID:              snap.CoachID,
		Tier:                 snap.Tier,
		Status:               snap.Status,
		Provider:             "stripe",
		StripeCustomerID:     snap.CustomerID,
		StripeSubscriptionID: snap.ID,
		PeriodStart:          snap.PeriodStart,
		PeriodEnd:            snap.PeriodEnd,
		TrialEnd:             snap.TrialEnd,
		CanceledAt:           snap.CanceledAt,
		CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
		OccurredAt:           occurredAt,
	}
}

// LocalEvent drives subscriptions without Stripe, for development and
// manual grants by an admin.
type LocalEvent struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	ClientID   string `json:"client_id"`
	CoachID    string `json:"coach_id"`
	Email      string `json:"email"`
	Tier       string `json:"tier"`
	OccurredAt string `json:"occurred_at"`
}

const (
	LocalActivated = "subscription.activated"
	LocalCanceled  = "subscription.canceled"
)

func (s *Service) ApplyLocal(ctx context.Context, in LocalEvent) (string, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return "", err
	}
	if !id.IsAdmin() {
		return "", apperr.New(apperr.Forbidden, "admin access required")
	}
	in.EventID = strings.TrimSpace(in.EventID)
	in.Type = strings.TrimSpace(in.Type)
	in.ClientID = strings.TrimSpace(in.ClientID)
	if in.EventID == "" || in.Type == "" || in.ClientID == "" || strings.TrimSpace(in.OccurredAt) == "" {
		return "", apperr.New(apperr.BadRequest, "event_id, type, client_id and occurred_at are required")
	}
	occurredAt, err := time.Parse(time.RFC3339, strings.TrimSpace(in.OccurredAt))
	if err != nil {
		return "", apperr.New(apperr.BadRequest, "occurred_at must be RFC3339")
	}
	c := Change{
		ClientID:   in.ClientID,
		CoachID:    in.CoachID,
		Email:      in.Email,
		Provider:   "local",
		OccurredAt: occurredAt,
	}
	switch in.Type {
	case LocalActivated:
		if strings.TrimSpace(in.Tier) == "" {
			return "", apperr.New(apperr.BadRequest, "tier is required for subscription.activated")
		}
		c.Tier = in.Tier
		c.Status = plans.StatusActive
	case LocalCanceled:
		c.Status = plans.StatusCanceled
	default:
		return "", apperr.Newf(apperr.BadRequest, "unsupported type %q", in.Type)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return "", err
	}

	outcome := WebhookProcessed
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := s.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        "local",
			ProviderEventID: in.EventID,
			EventType:       in.Type,
			Payload:         payload,
		})
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			outcome = WebhookDuplicate
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.audit(ctx, tx, "billing.provider.local.webhook", id.Role, id.UserID, in.ClientID, map[string]any{
			"provider_event_id": in.EventID,
			"event_type":        in.Type,
			"tier":              in.Tier,
		}); err != nil {
			return err
		}
		return s.Apply(ctx, tx, c)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}
