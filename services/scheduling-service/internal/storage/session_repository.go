package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type SessionRepository struct {
	pool *db.Pool
}

func NewSessionRepository(pool *db.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const sessionColumns = `id::text, coach_id, client_id, COALESCE(session_type_id::text, ''), scheduled_date,
	duration_minutes, status, payment_status, price_cents, COALESCE(stripe_session_id, ''), notes,
	client_email, client_phone, COALESCE(cancelled_by, ''), COALESCE(cancellation_reason, ''),
	cancelled_at, created_at, updated_at`

func scanSession(row pgx.CollectableRow) (model.Session, error) {
	var s model.Session
	err := row.Scan(&s.ID, &s.CoachID, &s.ClientID, &s.SessionTypeID, &s.ScheduledDate,
		&s.DurationMinutes, &s.Status, &s.PaymentStatus, &s.PriceCents, &s.StripeSessionID, &s.Notes,
		&s.ClientEmail, &s.ClientPhone, &s.CancelledBy, &s.CancelReason,
		&s.CancelledAt, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func collectOne(rows pgx.Rows, err error) (model.Session, error) {
	if err != nil {
		return model.Session{}, err
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSession)
	return s, notFound(err)
}

// LockCoach takes a transaction-scoped advisory lock on the coach calendar.
// Every check-then-write on a coach's sessions runs under it.
func (r *SessionRepository) LockCoach(ctx context.Context, tx pgx.Tx, coachID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('sessions:' || $1, 0))`, coachID)
	return err
}

// ListScheduledOverlapping returns scheduled sessions whose interval
// intersects [start, end). excludeID skips one session (used by reschedule).
func (r *SessionRepository) ListScheduledOverlapping(ctx context.Context, q Querier, coachID string, start, end time.Time, excludeID string) ([]model.Session, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE coach_id = $1
			AND status = 'scheduled'
			AND scheduled_date < $3
			AND ends_at > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY scheduled_date
	`, coachID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSession)
}

// Create inserts s as given; an overlap with another scheduled session of
// the coach surfaces as an error for which IsConflict is true.
func (r *SessionRepository) Create(ctx context.Context, tx pgx.Tx, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO sessions (id, coach_id, client_id, session_type_id, scheduled_date, duration_minutes, ends_at,
			status, payment_status, price_cents, stripe_session_id, notes, client_email, client_phone)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14)
		RETURNING created_at, updated_at
	`, s.ID, s.CoachID, s.ClientID, s.SessionTypeID, s.ScheduledDate, s.DurationMinutes, s.EndsAt(),
		s.Status, s.PaymentStatus, s.PriceCents, s.StripeSessionID, s.Notes, s.ClientEmail, s.ClientPhone,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (model.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id::text = $1`, id)
	return collectOne(rows, err)
}

func (r *SessionRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (model.Session, error) {
	rows, err := tx.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id::text = $1 FOR UPDATE`, id)
	return collectOne(rows, err)
}

func (r *SessionRepository) GetByStripeSessionID(ctx context.Context, q Querier, stripeSessionID string) (model.Session, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE stripe_session_id = $1`, stripeSessionID)
	return collectOne(rows, err)
}

func (r *SessionRepository) Cancel(ctx context.Context, tx pgx.Tx, id, cancelledBy, reason string) (model.Session, error) {
	rows, err := tx.Query(ctx, `
		UPDATE sessions
		SET status = 'cancelled',
			cancelled_by = $2,
			cancellation_reason = $3,
			cancelled_at = now(),
			updated_at = now()
		WHERE id::text = $1
		RETURNING `+sessionColumns,
		id, cancelledBy, reason)
	return collectOne(rows, err)
}

func (r *SessionRepository) Reschedule(ctx context.Context, tx pgx.Tx, id string, start time.Time, durationMinutes int) (model.Session, error) {
	rows, err := tx.Query(ctx, `
		UPDATE sessions
		SET scheduled_date = $2,
			duration_minutes = $3,
			ends_at = $2 + make_interval(mins => $3),
			updated_at = now()
		WHERE id::text = $1
		RETURNING `+sessionColumns,
		id, start, durationMinutes)
	return collectOne(rows, err)
}

func (r *SessionRepository) SetStatus(ctx context.Context, tx pgx.Tx, id, status string) (model.Session, error) {
	rows, err := tx.Query(ctx, `
		UPDATE sessions SET status = $2, updated_at = now()
		WHERE id::text = $1
		RETURNING `+sessionColumns,
		id, status)
	return collectOne(rows, err)
}

type CoachSessionFilter struct {
	CoachID  string
	From     time.Time
	To       time.Time
	Statuses []string
	Limit    int
}

func (r *SessionRepository) ListByCoach(ctx context.Context, f CoachSessionFilter) ([]model.Session, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE coach_id = $1
			AND scheduled_date >= $2
			AND scheduled_date < $3
			AND (COALESCE(cardinality($4::text[]), 0) = 0 OR status = ANY($4::text[]))
		ORDER BY scheduled_date
		LIMIT $5
	`, f.CoachID, f.From, f.To, f.Statuses, f.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSession)
}

// ListByClient returns the client's sessions, newest first, or only the
// scheduled ones starting after since when upcomingOnly is set. A non-empty
// coachID restricts the result to that coach.
func (r *SessionRepository) ListByClient(ctx context.Context, clientID, coachID string, upcomingOnly bool, since time.Time, limit int) ([]model.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE client_id = $1
			AND (NOT $2 OR (status = 'scheduled' AND scheduled_date > $3))
			AND ($5 = '' OR coach_id = $5)
		ORDER BY
			CASE WHEN $2 THEN scheduled_date END ASC,
			CASE WHEN NOT $2 THEN scheduled_date END DESC
		LIMIT $4
	`, clientID, upcomingOnly, since, limit, coachID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSession)
}

func (r *SessionRepository) CountScheduledInRange(ctx context.Context, coachID string, from, to time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM sessions
		WHERE coach_id = $1 AND status = 'scheduled' AND scheduled_date >= $2 AND scheduled_date < $3
	`, coachID, from, to).Scan(&n)
	return n, err
}

// LockIdempotencyKey claims (coachID, key) inside tx and returns the session
// id recorded by an earlier successful request, or "" on first use.
func (r *SessionRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, coachID, key string) (string, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (coach_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (coach_id, idempotency_key) DO NOTHING
	`, coachID, key); err != nil {
		return "", err
	}
	var sessionID string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(session_id::text, '')
		FROM booking_idempotency_keys
		WHERE coach_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, coachID, key).Scan(&sessionID)
	return sessionID, err
}

func (r *SessionRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, coachID, key, sessionID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET session_id = $3::uuid, updated_at = now()
		WHERE coach_id = $1 AND idempotency_key = $2
	`, coachID, key, sessionID)
	return err
}
