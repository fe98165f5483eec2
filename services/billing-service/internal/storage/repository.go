package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
)

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func IsNotFound(err error) bool {
	return db.IsNoRows(err)
}

// Subscription is the latest known state of a client's plan. Tier keeps the
// purchased plan even after cancellation; entitlement derives from Status.
type Subscription struct {
	ClientID             string     `json:"client_id"`
	CoachID              string     `json:"coach_id,omitempty"`
	Email                string     `json:"-"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	Provider             string     `json:"provider"`
	StripeCustomerID     string     `json:"-"`
	StripeSubscriptionID string     `json:"-"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

const subscriptionColumns = `client_id, coach_id, email, tier, status, provider,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
	current_period_start, current_period_end, trial_end, cancel_at_period_end, canceled_at, updated_at`

func scanSubscription(row pgx.CollectableRow) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ClientID, &s.CoachID, &s.Email, &s.Tier, &s.Status, &s.Provider,
		&s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialEnd, &s.CancelAtPeriodEnd, &s.CanceledAt, &s.UpdatedAt)
	return s, err
}

// optional maps pgx.ErrNoRows to ok=false.
func optional(s Subscription, err error) (Subscription, bool, error) {
	if err != nil {
		if db.IsNoRows(err) {
			return Subscription{}, false, nil
		}
		return Subscription{}, false, err
	}
	return s, true, nil
}

func (r *Repository) UpsertSubscription(ctx context.Context, tx pgx.Tx, s Subscription) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscriptions (client_id, coach_id, email, tier, status, provider, stripe_customer_id,
			stripe_subscription_id, current_period_start, current_period_end, trial_end, cancel_at_period_end, canceled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (client_id)
		DO UPDATE SET coach_id = EXCLUDED.coach_id,
		              email = EXCLUDED.email,
		              tier = EXCLUDED.tier,
		              status = EXCLUDED.status,
		              provider = EXCLUDED.provider,
		              stripe_customer_id = EXCLUDED.stripe_customer_id,
		              stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		              current_period_start = EXCLUDED.current_period_start,
		              current_period_end = EXCLUDED.current_period_end,
		              trial_end = EXCLUDED.trial_end,
		              cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		              canceled_at = EXCLUDED.canceled_at,
		              updated_at = now()
	`, s.ClientID, s.CoachID, s.Email, s.Tier, s.Status, defaultIfEmpty(s.Provider, "local"),
		nullIfEmpty(s.StripeCustomerID), nullIfEmpty(s.StripeSubscriptionID),
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.TrialEnd, s.CancelAtPeriodEnd, s.CanceledAt)
	return err
}

func (r *Repository) GetSubscription(ctx context.Context, clientID string) (Subscription, bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE client_id = $1`, clientID)
	if err != nil {
		return Subscription{}, false, err
	}
	return optional(pgx.CollectExactlyOneRow(rows, scanSubscription))
}

func (r *Repository) GetSubscriptionForUpdate(ctx context.Context, tx pgx.Tx, clientID string) (Subscription, bool, error) {
	rows, err := tx.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE client_id = $1 FOR UPDATE`, clientID)
	if err != nil {
		return Subscription{}, false, err
	}
	return optional(pgx.CollectExactlyOneRow(rows, scanSubscription))
}

// FindByStripeSubscription resolves the client for invoice events, which
// carry no metadata of their own.
func (r *Repository) FindByStripeSubscription(ctx context.Context, tx pgx.Tx, stripeSubscriptionID string) (Subscription, bool, error) {
	rows, err := tx.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1 FOR UPDATE`, stripeSubscriptionID)
	if err != nil {
		return Subscription{}, false, err
	}
	return optional(pgx.CollectExactlyOneRow(rows, scanSubscription))
}

func (r *Repository) ListStripeSubscriptionsForReconcile(ctx context.Context, limit int) ([]Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider = 'stripe' AND COALESCE(stripe_subscription_id, '') <> ''
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSubscription)
}

// Usage is one client's consumption in a calendar month.
type Usage struct {
	ClientID          string    `json:"client_id"`
	Month             time.Time `json:"month"`
	AIMessagesUsed    int       `json:"ai_messages_used"`
	HumanSessionsUsed int       `json:"human_sessions_used"`
}

// AddUsage applies deltas to a month's counters. Counters never go below zero.
func (r *Repository) AddUsage(ctx context.Context, clientID string, month time.Time, aiMessages, humanSessions int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_months (client_id, month, ai_messages_used, human_sessions_used)
		VALUES ($1, $2, GREATEST($3, 0), GREATEST($4, 0))
		ON CONFLICT (client_id, month)
		DO UPDATE SET ai_messages_used = GREATEST(usage_months.ai_messages_used + $3, 0),
		              human_sessions_used = GREATEST(usage_months.human_sessions_used + $4, 0),
		              updated_at = now()
	`, clientID, month, aiMessages, humanSessions)
	return err
}

func (r *Repository) GetUsage(ctx context.Context, clientID string, month time.Time) (Usage, error) {
	u := Usage{ClientID: clientID, Month: month}
	err := r.pool.QueryRow(ctx, `
		SELECT ai_messages_used, human_sessions_used
		FROM usage_months
		WHERE client_id = $1 AND month = $2
	`, clientID, month).Scan(&u.AIMessagesUsed, &u.HumanSessionsUsed)
	if err != nil && !db.IsNoRows(err) {
		return Usage{}, err
	}
	return u, nil
}

type CheckoutSession struct {
	StripeSessionID      string
	ClientID             string
	Tier                 string
	Status               string
	StripeCustomerID     string
	StripeSubscriptionID string
	URL                  string
	ReturnToken          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
	CanceledAt           *time.Time
	ReturnSeenAt         *time.Time
	ExpiredAt            *time.Time
}

func (r *Repository) UpsertCheckoutSession(ctx context.Context, tx pgx.Tx, s CheckoutSession) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO checkout_sessions (stripe_session_id, client_id, tier, status, url, return_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_session_id)
		DO UPDATE SET client_id = EXCLUDED.client_id,
		              tier = EXCLUDED.tier,
		              status = EXCLUDED.status,
		              url = EXCLUDED.url,
		              updated_at = now()
	`, s.StripeSessionID, s.ClientID, s.Tier, s.Status, nullIfEmpty(s.URL), nullIfEmpty(s.ReturnToken))
	return err
}

func (r *Repository) MarkCheckoutSessionCompleted(ctx context.Context, tx pgx.Tx, stripeSessionID string, completedAt time.Time, stripeCustomerID, stripeSubscriptionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'completed',
		    stripe_customer_id = $3,
		    stripe_subscription_id = $4,
		    completed_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1
	`, stripeSessionID, completedAt, nullIfEmpty(stripeCustomerID), nullIfEmpty(stripeSubscriptionID))
	return err
}

func (r *Repository) MarkCheckoutSessionExpired(ctx context.Context, tx pgx.Tx, stripeSessionID string, expiredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET status = 'expired',
		    expired_at = $2,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND status <> 'completed'
	`, stripeSessionID, expiredAt)
	return err
}

// AckCheckoutReturn records the customer landing back from Stripe. The token
// guards the public endpoint; a cancel never overrides a completed session.
func (r *Repository) AckCheckoutReturn(ctx context.Context, tx pgx.Tx, stripeSessionID, token, result string, seenAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE checkout_sessions
		SET return_seen_at = $4,
		    status = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN 'canceled'
		      ELSE status
		    END,
		    canceled_at = CASE
		      WHEN $3 = 'cancel' AND status <> 'completed' THEN COALESCE(canceled_at, $4)
		      ELSE canceled_at
		    END,
		    updated_at = now()
		WHERE stripe_session_id = $1 AND return_token = $2
	`, stripeSessionID, token, result, seenAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) GetCheckoutSession(ctx context.Context, stripeSessionID string) (CheckoutSession, error) {
	var s CheckoutSession
	err := r.pool.QueryRow(ctx, `
		SELECT stripe_session_id, client_id, tier, status,
		       COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		       COALESCE(url, ''), COALESCE(return_token, ''), created_at, updated_at,
		       completed_at, canceled_at, return_seen_at, expired_at
		FROM checkout_sessions
		WHERE stripe_session_id = $1
	`, stripeSessionID).Scan(
		&s.StripeSessionID,
		&s.ClientID,
		&s.Tier,
		&s.Status,
		&s.StripeCustomerID,
		&s.StripeSubscriptionID,
		&s.URL,
		&s.ReturnToken,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.CompletedAt,
		&s.CanceledAt,
		&s.ReturnSeenAt,
		&s.ExpiredAt,
	)
	return s, err
}

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

// InsertProviderEvent records a delivery; a replay returns ErrDuplicateProviderEvent.
func (r *Repository) InsertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	if !json.Valid(evt.Payload) {
		return errors.New("provider event payload is not valid JSON")
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}

type AuditEvent struct {
	EventType string
	ActorType string
	ActorID   string
	ClientID  string
	Metadata  map[string]any
}

func (r *Repository) InsertAuditEvent(ctx context.Context, tx pgx.Tx, evt AuditEvent) error {
	if evt.Metadata == nil {
		evt.Metadata = map[string]any{}
	}
	raw, err := json.Marshal(evt.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_type, actor_id, client_id, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, evt.EventType, defaultIfEmpty(evt.ActorType, "system"), nullIfEmpty(evt.ActorID), nullIfEmpty(evt.ClientID), raw)
	return err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func defaultIfEmpty(s string, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
