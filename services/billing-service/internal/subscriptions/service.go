// Package subscriptions owns client subscription state. Checkout, webhooks,
// cancellation and reconciliation all funnel into Apply, which writes the
// new state and emits an outbox event when the effective tier changes.
package subscriptions

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/plans"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/provider"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
)

// Provider is the payment processor side of a subscription.
type Provider interface {
	Configured() bool
	CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (provider.CheckoutSession, error)
	Cancel(ctx context.Context, subscriptionID, idempotencyKey string) (provider.Snapshot, error)
	Fetch(ctx context.Context, subscriptionID string) (provider.Snapshot, error)
}

type Service struct {
	pool     *db.Pool
	repo     *storage.Repository
	outbox   *outbox.Repository
	provider Provider
	logger   *slog.Logger
	now      func() time.Time
}

func New(pool *db.Pool, repo *storage.Repository, outboxRepo *outbox.Repository, prov Provider, logger *slog.Logger) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		outbox:   outboxRepo,
		provider: prov,
		logger:   logger,
		now:      time.Now,
	}
}

// Change is an observed subscription state. Empty strings and nil times
// keep what is stored. An empty Status keeps an entitled stored status and
// otherwise means active.
type Change struct {
	ClientID             string
	CoachID              string
	Email                string
	Tier                 string
	Status               string
	Provider             string
	StripeCustomerID     string
	StripeSubscriptionID string
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	TrialEnd             *time.Time
	CanceledAt           *time.Time
	CancelAtPeriodEnd    bool
	OccurredAt           time.Time
}

func merge(prev storage.Subscription, found bool, c Change) storage.Subscription {
	next := prev
	if !found {
		next = storage.Subscription{ClientID: c.ClientID}
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&next.CoachID, c.CoachID)
	set(&next.Email, c.Email)
	set(&next.Tier, c.Tier)
	set(&next.Provider, c.Provider)
	set(&next.StripeCustomerID, c.StripeCustomerID)
	set(&next.StripeSubscriptionID, c.StripeSubscriptionID)

	switch {
	case c.Status != "":
		next.Status = c.Status
	case found && plans.Entitled(prev.Status):
	default:
		next.Status = plans.StatusActive
	}
	if c.PeriodStart != nil {
		next.CurrentPeriodStart = c.PeriodStart
	}
	if c.PeriodEnd != nil {
		next.CurrentPeriodEnd = c.PeriodEnd
	}
	if c.TrialEnd != nil {
		next.TrialEnd = c.TrialEnd
	}
	next.CancelAtPeriodEnd = c.CancelAtPeriodEnd

	switch {
	case next.Status == plans.StatusCanceled:
		next.CancelAtPeriodEnd = false
		if c.CanceledAt != nil {
			next.CanceledAt = c.CanceledAt
		} else if next.CanceledAt == nil {
			at := c.OccurredAt.UTC()
			next.CanceledAt = &at
		}
	case plans.Entitled(next.Status):
		next.CanceledAt = nil
	}
	return next
}

// transition reports the event to publish when the effective tier or the
// status moved between prev and next.
func transition(prev storage.Subscription, found bool, next storage.Subscription, at time.Time) (events.SubscriptionChanged, bool) {
	prevStatus := plans.StatusNone
	prevTier := plans.TierFree
	if found {
		prevStatus = prev.Status
		prevTier = plans.EffectiveTier(prev.Tier, prev.Status)
	}
	tier := plans.EffectiveTier(next.Tier, next.Status)
	if prevStatus == next.Status && prevTier == tier {
		return events.SubscriptionChanged{}, false
	}
	return events.SubscriptionChanged{
		ClientID:       next.ClientID,
		CoachID:        next.CoachID,
		Email:          next.Email,
		Tier:           tier,
		PlanTier:       next.Tier,
		Status:         next.Status,
		PreviousStatus: prevStatus,
		ChangedAt:      at.UTC(),
	}, true
}

func validStatus(s string) bool {
	switch s {
	case "", plans.StatusTrialing, plans.StatusActive, plans.StatusPastDue, plans.StatusCanceled, plans.StatusUnpaid:
		return true
	}
	return false
}

// Apply writes c under a row lock and queues a SubscriptionChanged event
// when the effective tier or status changes.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, c Change) error {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.Tier = strings.ToLower(strings.TrimSpace(c.Tier))
	if c.ClientID == "" {
		return apperr.New(apperr.BadRequest, "client_id is required")
	}
	if !validStatus(c.Status) {
		return apperr.Newf(apperr.BadRequest, "unknown subscription status %q", c.Status)
	}
	if c.Tier != "" {
		if _, ok := plans.Lookup(c.Tier); !ok || c.Tier == plans.TierFree {
			return apperr.Newf(apperr.BadRequest, "unknown tier %q", c.Tier)
		}
	}
	if c.OccurredAt.IsZero() {
		c.OccurredAt = s.now()
	}

	prev, found, err := s.repo.GetSubscriptionForUpdate(ctx, tx, c.ClientID)
	if err != nil {
		return err
	}
	next := merge(prev, found, c)
	if next.Tier == "" {
		return apperr.New(apperr.BadRequest, "tier is required")
	}
	if err := s.repo.UpsertSubscription(ctx, tx, next); err != nil {
		return err
	}

	evt, changed := transition(prev, found, next, c.OccurredAt)
	if !changed {
		return nil
	}
	oe, err := outbox.NewEvent("subscription", next.ClientID, events.TopicSubscriptionChanged, evt)
	if err != nil {
		return err
	}
	if err := s.outbox.Insert(ctx, tx, oe); err != nil {
		return err
	}
	s.logger.Info("subscription changed",
		"client_id", next.ClientID,
		"tier", evt.Tier,
		"status", evt.Status,
		"previous_status", evt.PreviousStatus,
	)
	return nil
}

func (s *Service) audit(ctx context.Context, tx pgx.Tx, eventType, actorType, actorID, clientID string, meta map[string]any) error {
	return s.repo.InsertAuditEvent(ctx, tx, storage.AuditEvent{
		EventType: eventType,
		ActorType: actorType,
		ActorID:   actorID,
		ClientID:  clientID,
		Metadata:  meta,
	})
}

func newReturnToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
