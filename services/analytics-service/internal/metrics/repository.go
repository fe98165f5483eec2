// Package metrics keeps per-coach daily counters for the coach dashboard.
// Days are calendar dates; the caller decides the zone they are cut in.
package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
)

// Delta is added to one day's counters. Fields may be negative.
type Delta struct {
	Booked                int `json:"booked"`
	Cancelled             int `json:"cancelled"`
	Rescheduled           int `json:"rescheduled"`
	NotificationsSent     int `json:"notifications_sent"`
	NotificationsFailed   int `json:"notifications_failed"`
	RemindersDeadLettered int `json:"reminders_dead_lettered"`
	CrisisAlerts          int `json:"crisis_alerts"`
}

func (d Delta) Add(o Delta) Delta {
	return Delta{
		Booked:                d.Booked + o.Booked,
		Cancelled:             d.Cancelled + o.Cancelled,
		Rescheduled:           d.Rescheduled + o.Rescheduled,
		NotificationsSent:     d.NotificationsSent + o.NotificationsSent,
		NotificationsFailed:   d.NotificationsFailed + o.NotificationsFailed,
		RemindersDeadLettered: d.RemindersDeadLettered + o.RemindersDeadLettered,
		CrisisAlerts:          d.CrisisAlerts + o.CrisisAlerts,
	}
}

type Change struct {
	Day   time.Time
	Delta Delta
}

type Day struct {
	Date string `json:"date"`
	Delta
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Apply adds every change for coachID in one transaction.
func (r *Repository) Apply(ctx context.Context, coachID string, changes ...Change) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, c := range changes {
			if err := bump(ctx, tx, coachID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func bump(ctx context.Context, tx pgx.Tx, coachID string, c Change) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO coach_daily_metrics (coach_id, day, booked, cancelled, rescheduled,
			notifications_sent, notifications_failed, reminders_dead_lettered, crisis_alerts)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (coach_id, day)
		DO UPDATE SET booked = coach_daily_metrics.booked + EXCLUDED.booked,
		              cancelled = coach_daily_metrics.cancelled + EXCLUDED.cancelled,
		              rescheduled = coach_daily_metrics.rescheduled + EXCLUDED.rescheduled,
		              notifications_sent = coach_daily_metrics.notifications_sent + EXCLUDED.notifications_sent,
		              notifications_failed = coach_daily_metrics.notifications_failed + EXCLUDED.notifications_failed,
		              reminders_dead_lettered = coach_daily_metrics.reminders_dead_lettered + EXCLUDED.reminders_dead_lettered,
		              crisis_alerts = coach_daily_metrics.crisis_alerts + EXCLUDED.crisis_alerts,
		              updated_at = now()
	`, coachID, c.Day.Format(time.DateOnly), c.Delta.Booked, c.Delta.Cancelled, c.Delta.Rescheduled,
		c.Delta.NotificationsSent, c.Delta.NotificationsFailed, c.Delta.RemindersDeadLettered, c.Delta.CrisisAlerts)
	return err
}

// RecordDeadLetter keeps the failed reminder and counts it on day.
func (r *Repository) RecordDeadLetter(ctx context.Context, evt events.ReminderDue, failedAt, day time.Time) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reminder_dead_letters (session_id, coach_id, channel, recipient, remind_at, error_reason, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, evt.SessionID, evt.CoachID, evt.Channel, evt.Recipient, evt.RemindAt, evt.ErrorReason, failedAt); err != nil {
			return err
		}
		return bump(ctx, tx, evt.CoachID, Change{Day: day, Delta: Delta{RemindersDeadLettered: 1}})
	})
}

// Daily returns the stored days in [from, to], both inclusive, oldest first.
func (r *Repository) Daily(ctx context.Context, coachID string, from, to time.Time) ([]Day, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), booked, cancelled, rescheduled, notifications_sent,
			notifications_failed, reminders_dead_lettered, crisis_alerts
		FROM coach_daily_metrics
		WHERE coach_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day
	`, coachID, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Day, error) {
		var d Day
		err := row.Scan(&d.Date, &d.Booked, &d.Cancelled, &d.Rescheduled, &d.NotificationsSent,
			&d.NotificationsFailed, &d.RemindersDeadLettered, &d.CrisisAlerts)
		return d, err
	})
}
