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
)

type CheckoutInput struct {
	Tier           string
	Email          string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Checkout opens a Stripe subscription checkout for the calling client. The
// subscription itself is recorded by the webhook once Stripe completes it.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}
	if id.Role != auth.RoleClient {
		return CheckoutResult{}, apperr.New(apperr.Forbidden, "only clients can subscribe")
	}
	tier := strings.ToLower(strings.TrimSpace(in.Tier))
	if tier == "" {
		return CheckoutResult{}, apperr.New(apperr.BadRequest, "tier is required")
	}
	if _, ok := plans.Lookup(tier); !ok || tier == plans.TierFree {
		return CheckoutResult{}, apperr.Newf(apperr.BadRequest, "unknown tier %q", tier)
	}
	if s.provider == nil || !s.provider.Configured() {
		return CheckoutResult{}, apperr.New(apperr.Internal, "subscriptions are not configured")
	}

	existing, found, err := s.repo.GetSubscription(ctx, id.UserID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if found && plans.Entitled(existing.Status) {
		return CheckoutResult{}, apperr.New(apperr.BadRequest, "an active subscription already exists; cancel it before changing plans")
	}

	returnToken := newReturnToken()
	sess, err := s.provider.CreateCheckout(ctx, provider.CheckoutRequest{
		ClientID:       id.UserID,
		CoachID:        id.CoachID,
		Tier:           tier,
		Email:          strings.TrimSpace(in.Email),
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
		Trial:          !found,
		ReturnToken:    returnToken,
		IdempotencyKey: in.IdempotencyKey,
	})
	switch {
	case errors.Is(err, provider.ErrNoReturnURL):
		return CheckoutResult{}, apperr.New(apperr.BadRequest, "success_url and cancel_url are required")
	case errors.Is(err, provider.ErrNoPrice), errors.Is(err, provider.ErrNotConfigured):
		return CheckoutResult{}, apperr.Wrap(apperr.Internal, "tier is not purchasable right now", err)
	case err != nil:
		s.logger.Error("stripe checkout session create failed", "client_id", id.UserID, "tier", tier, "err", err)
		return CheckoutResult{}, apperr.Wrap(apperr.Internal, "failed to create checkout session", err)
	}

	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.UpsertCheckoutSession(ctx, tx, storage.CheckoutSession{
			StripeSessionID: sess.ID,
			ClientID:        id.UserID,
			Tier:            tier,
			Status:          "created",
			URL:             sess.URL,
			ReturnToken:     returnToken,
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, "billing.checkout.created", id.Role, id.UserID, id.UserID, map[string]any{
			"tier":              tier,
			"stripe_session_id": sess.ID,
			"trial":             !found,
		})
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	s.logger.Info("subscription checkout created", "client_id", id.UserID, "tier", tier, "checkout_id", sess.ID)
	return CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// CheckoutStatus is the non-sensitive view served to the public return page.
type CheckoutStatus struct {
	SessionID   string     `json:"session_id"`
	Tier        string     `json:"tier"`
	Status      string     `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
}

func (s *Service) CheckoutStatus(ctx context.Context, sessionID string) (CheckoutStatus, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return CheckoutStatus{}, apperr.New(apperr.BadRequest, "session_id is required")
	}
	sess, err := s.repo.GetCheckoutSession(ctx, sessionID)
	if storage.IsNotFound(err) {
		return CheckoutStatus{}, apperr.New(apperr.NotFound, "checkout session not found")
	}
	if err != nil {
		return CheckoutStatus{}, err
	}
	return CheckoutStatus{
		SessionID:   sess.StripeSessionID,
		Tier:        sess.Tier,
		Status:      sess.Status,
		UpdatedAt:   sess.UpdatedAt,
		CompletedAt: sess.CompletedAt,
		CanceledAt:  sess.CanceledAt,
		ExpiredAt:   sess.ExpiredAt,
	}, nil
}

// AckCheckoutReturn records the customer returning from Stripe. state is the
// per-session token written into the return urls.
func (s *Service) AckCheckoutReturn(ctx context.Context, sessionID, state, result string) error {
	sessionID = strings.TrimSpace(sessionID)
	state = strings.TrimSpace(state)
	result = strings.ToLower(strings.TrimSpace(result))
	if sessionID == "" || state == "" {
		return apperr.New(apperr.BadRequest, "session_id and state are required")
	}
	if result != "success" && result != "cancel" {
		return apperr.New(apperr.BadRequest, "result must be success or cancel")
	}
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := s.repo.AckCheckoutReturn(ctx, tx, sessionID, state, result, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.NotFound, "checkout session not found")
		}
		return nil
	})
}

// resolveClient picks the client a read or write applies to. Clients act on
// themselves, admins on anyone, coaches may read their own clients.
func (s *Service) resolveClient(ctx context.Context, clientID string, write bool) (auth.Identity, string, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return id, "", err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || clientID == id.UserID {
		if id.Role == auth.RoleCoach && clientID == "" {
			return id, "", apperr.New(apperr.BadRequest, "client_id is required")
		}
		return id, id.UserID, nil
	}
	switch {
	case id.IsAdmin():
		return id, clientID, nil
	case id.Role == auth.RoleCoach && !write:
		sub, found, err := s.repo.GetSubscription(ctx, clientID)
		if err != nil {
			return id, "", err
		}
		if found && id.CanManageCoach(sub.CoachID) {
			return id, clientID, nil
		}
	}
	return id, "", apperr.New(apperr.Forbidden, "not allowed to access this client's billing")
}

// Overview is a client's subscription as seen by the client.
type Overview struct {
	ClientID     string                `json:"client_id"`
	Tier         string                `json:"tier"`
	Status       string                `json:"status"`
	Plan         plans.Plan            `json:"plan"`
	Subscription *storage.Subscription `json:"subscription,omitempty"`
	Usage        UsageReport           `json:"usage"`
}

func (s *Service) Current(ctx context.Context, clientID string) (Overview, error) {
	_, clientID, err := s.resolveClient(ctx, clientID, false)
	if err != nil {
		return Overview{}, err
	}
	sub, found, err := s.repo.GetSubscription(ctx, clientID)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{ClientID: clientID, Tier: plans.TierFree, Status: plans.StatusNone}
	if found {
		out.Tier = plans.EffectiveTier(sub.Tier, sub.Status)
		out.Status = sub.Status
		out.Subscription = &sub
	}
	out.Plan = plans.ForTier(out.Tier)
	out.Usage, err = s.usage(ctx, clientID, out.Plan)
	if err != nil {
		return Overview{}, err
	}
	return out, nil
}

func (s *Service) Usage(ctx context.Context, clientID string) (UsageReport, error) {
	ov, err := s.Current(ctx, clientID)
	if err != nil {
		return UsageReport{}, err
	}
	return ov.Usage, nil
}

func (s *Service) usage(ctx context.Context, clientID string, plan plans.Plan) (UsageReport, error) {
	u, err := s.repo.GetUsage(ctx, clientID, MonthOf(s.now()))
	if err != nil {
		return UsageReport{}, err
	}
	return BuildUsageReport(plan, u), nil
}

// Cancel ends the client's subscription immediately. Stripe subscriptions
// are cancelled at Stripe first; the webhook that follows is a no-op.
func (s *Service) Cancel(ctx context.Context, clientID, idempotencyKey string) (storage.Subscription, error) {
	id, clientID, err := s.resolveClient(ctx, clientID, true)
	if err != nil {
		return storage.Subscription{}, err
	}
	sub, found, err := s.repo.GetSubscription(ctx, clientID)
	if err != nil {
		return storage.Subscription{}, err
	}
	if !found || !plans.Entitled(sub.Status) {
		return storage.Subscription{}, apperr.New(apperr.NotFound, "no active subscription found")
	}

	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		key = "cancel:" + clientID + ":" + sub.StripeSubscriptionID
	}
	now := s.now().UTC()
	change := Change{
		ClientID:   clientID,
		Status:     plans.StatusCanceled,
		CanceledAt: &now,
		OccurredAt: now,
	}
	if sub.Provider == "stripe" && sub.StripeSubscriptionID != "" {
		if s.provider == nil {
			return storage.Subscription{}, apperr.New(apperr.Internal, "subscriptions are not configured")
		}
		snap, err := s.provider.Cancel(ctx, sub.StripeSubscriptionID, key)
		if err != nil {
			s.logger.Error("stripe subscription cancel failed", "client_id", clientID, "stripe_subscription_id", sub.StripeSubscriptionID, "err", err)
			return storage.Subscription{}, apperr.Wrap(apperr.Internal, "failed to cancel subscription", err)
		}
		change.StripeCustomerID = snap.CustomerID
		if snap.CanceledAt != nil {
			change.CanceledAt = snap.CanceledAt
		}
	}

	payload, err := json.Marshal(map[string]string{
		"client_id":              clientID,
		"stripe_subscription_id": sub.StripeSubscriptionID,
		"canceled_at":            now.Format(time.RFC3339),
	})
	if err != nil {
		return storage.Subscription{}, err
	}
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := s.repo.InsertProviderEvent(ctx, tx, storage.ProviderEvent{
			Provider:        "internal",
			ProviderEventID: key,
			EventType:       "subscription.cancel",
			Payload:         payload,
		})
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.audit(ctx, tx, "billing.subscription.cancel.requested", id.Role, id.UserID, clientID, map[string]any{
			"provider":               sub.Provider,
			"stripe_subscription_id": sub.StripeSubscriptionID,
			"idempotency_key":        key,
		}); err != nil {
			return err
		}
		return s.Apply(ctx, tx, change)
	})
	if err != nil {
		return storage.Subscription{}, err
	}
	sub, _, err = s.repo.GetSubscription(ctx, clientID)
	return sub, err
}
