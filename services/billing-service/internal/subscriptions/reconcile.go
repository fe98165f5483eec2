package subscriptions

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
)

// Reconcile pulls the Stripe view of one stored subscription and applies it.
// Stripe is the source of truth for status and period.
func (s *Service) Reconcile(ctx context.Context, sub storage.Subscription) error {
	if strings.TrimSpace(sub.StripeSubscriptionID) == "" {
		return nil
	}
	if s.provider == nil || !s.provider.Configured() {
		return nil
	}
	snap, err := s.provider.Fetch(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return err
	}
	// Missing metadata keeps the stored client and tier.
	if snap.ClientID == "" {
		snap.ClientID = sub.ClientID
	}
	if snap.ClientID != sub.ClientID {
		s.logger.Warn("stripe reconcile: metadata client mismatch", "client_id", sub.ClientID, "stripe_client_id", snap.ClientID, "stripe_subscription_id", sub.StripeSubscriptionID)
		snap.ClientID = sub.ClientID
	}
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return s.Apply(ctx, tx, ChangeFromSnapshot(snap, s.now().UTC()))
	})
}

func (s *Service) ListForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error) {
	return s.repo.ListStripeSubscriptionsForReconcile(ctx, limit)
}
