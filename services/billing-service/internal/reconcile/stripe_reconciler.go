// Package reconcile periodically re-reads Stripe subscriptions so missed or
// out-of-order webhooks heal on their own.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/purposefullive/coaching-platform/services/billing-service/internal/storage"
)

// Source lists stored Stripe subscriptions and reconciles them one by one.
type Source interface {
	ListForReconcile(ctx context.Context, limit int) ([]storage.Subscription, error)
	Reconcile(ctx context.Context, sub storage.Subscription) error
}

// Locker is a cluster-wide leader lock. Only the holder reconciles.
type Locker interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Unlock(ctx context.Context, key int64) error
}

type Config struct {
	Interval        time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

type StripeReconciler struct {
	src     Source
	lock    Locker
	logger  *slog.Logger
	cfg     Config
	retry   time.Duration
	standby time.Duration
}

const defaultLockKey int64 = 4242001

func NewStripeReconciler(src Source, lock Locker, logger *slog.Logger, cfg Config) *StripeReconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.AdvisoryLockKey == 0 {
		cfg.AdvisoryLockKey = defaultLockKey
	}
	return &StripeReconciler{
		src:     src,
		lock:    lock,
		logger:  logger,
		cfg:     cfg,
		retry:   5 * time.Second,
		standby: 30 * time.Second,
	}
}

func (r *StripeReconciler) Run(ctx context.Context) {
	if !r.acquire(ctx) {
		return
	}
	defer func() {
		_ = r.lock.Unlock(context.Background(), r.cfg.AdvisoryLockKey)
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.ReconcileOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

func (r *StripeReconciler) acquire(ctx context.Context) bool {
	for {
		locked, err := r.lock.TryLock(ctx, r.cfg.AdvisoryLockKey)
		wait := r.standby
		switch {
		case err != nil:
			r.logger.Error("stripe reconcile: failed to acquire advisory lock", "err", err)
			wait = r.retry
		case locked:
			r.logger.Info("stripe reconcile: advisory lock acquired", "lock_key", r.cfg.AdvisoryLockKey)
			return true
		default:
			r.logger.Info("stripe reconcile: advisory lock held by another instance", "lock_key", r.cfg.AdvisoryLockKey)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// ReconcileOnce processes one batch and returns how many subscriptions
// were reconciled without error.
func (r *StripeReconciler) ReconcileOnce(ctx context.Context) int {
	subs, err := r.src.ListForReconcile(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("stripe reconcile: failed to list subscriptions", "err", err)
		return 0
	}
	ok := 0
	for _, s := range subs {
		if ctx.Err() != nil {
			return ok
		}
		if s.StripeSubscriptionID == "" || s.ClientID == "" {
			continue
		}
		if err := r.src.Reconcile(ctx, s); err != nil {
			r.logger.Warn("stripe reconcile: apply failed", "err", err, "client_id", s.ClientID, "stripe_subscription_id", s.StripeSubscriptionID)
			continue
		}
		ok++
	}
	return ok
}
