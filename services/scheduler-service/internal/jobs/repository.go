package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	otelx "github.com/purposefullive/coaching-platform/libs/otel"
)

type Job struct {
	ID              int64
	IdempotencyKey  string
	SessionID       string
	CoachID         string
	Channel         string
	Recipient       string
	RemindAt        time.Time
	SessionStart    time.Time
	DurationMinutes int
	Traceparent     string
	Tracestate      string
	Attempts        int
	MaxAttempts     int
	NextRunAt       time.Time
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (j Job) traceContext() otelx.Carried {
	return otelx.Carried{Traceparent: j.Traceparent, Tracestate: j.Tracestate}
}

// Insert stores job once per idempotency key. A redelivered request for a
// live job is a no-op. A job cancelled by an earlier reschedule is revived,
// since a session moved away and back again needs its reminders again.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	tc := otelx.Capture(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO scheduler_jobs (idempotency_key, session_id, coach_id, channel, recipient, remind_at,
			session_start, duration_minutes, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $6, $9, $10)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    coach_id = EXCLUDED.coach_id,
		    recipient = EXCLUDED.recipient,
		    session_start = EXCLUDED.session_start,
		    duration_minutes = EXCLUDED.duration_minutes,
		    next_run_at = EXCLUDED.next_run_at,
		    traceparent = EXCLUDED.traceparent,
		    tracestate = EXCLUDED.tracestate,
		    updated_at = now()
		WHERE scheduler_jobs.status = 'cancelled'
	`, job.IdempotencyKey, job.SessionID, job.CoachID, job.Channel, job.Recipient, job.RemindAt,
		job.SessionStart, job.DurationMinutes, tc.Traceparent, tc.Tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, session_id, coach_id, channel, recipient, remind_at, session_start,
			duration_minutes, COALESCE(traceparent, ''), COALESCE(tracestate, ''), attempts, max_attempts, next_run_at
		FROM scheduler_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Job, error) {
		var j Job
		err := row.Scan(&j.ID, &j.IdempotencyKey, &j.SessionID, &j.CoachID, &j.Channel, &j.Recipient,
			&j.RemindAt, &j.SessionStart, &j.DurationMinutes, &j.Traceparent, &j.Tracestate,
			&j.Attempts, &j.MaxAttempts, &j.NextRunAt)
		return j, err
	})
}

func (r *Repository) setStatus(ctx context.Context, tx pgx.Tx, ids []int64, status string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = $2, updated_at = now()
		WHERE id = ANY($1)
	`, ids, status)
	return err
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	return r.setStatus(ctx, tx, ids, "processed")
}

// MarkExpired closes jobs whose session already started.
func (r *Repository) MarkExpired(ctx context.Context, tx pgx.Tx, ids []int64) error {
	return r.setStatus(ctx, tx, ids, "expired")
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

// CancelPending cancels the session's pending jobs. A non-nil sessionStart
// limits it to jobs created for that start time.
func (r *Repository) CancelPending(ctx context.Context, tx pgx.Tx, sessionID string, sessionStart *time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE scheduler_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE session_id = $1
			AND status = 'pending'
			AND ($2::timestamptz IS NULL OR session_start = $2)
	`, sessionID, sessionStart)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
