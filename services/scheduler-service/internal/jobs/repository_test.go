package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/db/dbtest"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/scheduler-service/migrations"
	"github.com/segmentio/kafka-go"
)

func message(t *testing.T, v any) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Value: raw}
}

func jobStatuses(t *testing.T, pool *db.Pool, sessionID string) map[time.Time]string {
	t.Helper()
	rows, err := pool.Query(context.Background(),
		`SELECT session_start, status FROM scheduler_jobs WHERE session_id = $1`, sessionID)
	if err != nil {
		t.Fatalf("query jobs: %v", err)
	}
	out := map[time.Time]string{}
	for rows.Next() {
		var start time.Time
		var status string
		if err := rows.Scan(&start, &status); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out[start.UTC()] = status
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestRescheduleAwayAndBackKeepsReminders(t *testing.T) {
	pool := dbtest.Open(t, migrations.FS)
	ctx := context.Background()
	in := NewIntake(pool, NewRepository(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	a := time.Date(2030, 3, 10, 15, 0, 0, 0, time.UTC)
	b := a.Add(48 * time.Hour)
	request := func(start time.Time) {
		t.Helper()
		err := in.ReminderRequested(ctx, message(t, events.ReminderRequested{
			SessionID:     "sess-1",
			CoachID:       "coach-1",
			Channel:       events.ChannelEmail,
			Recipient:     "client@example.com",
			RemindAt:      start.Add(-time.Hour),
			ScheduledDate: start,
			Duration:      60,
		}))
		if err != nil {
			t.Fatalf("ReminderRequested: %v", err)
		}
	}
	move := func(from, to time.Time) {
		t.Helper()
		err := in.SessionRescheduled(ctx, message(t, events.SessionRescheduled{
			SessionID:     "sess-1",
			CoachID:       "coach-1",
			PreviousDate:  from,
			ScheduledDate: to,
		}))
		if err != nil {
			t.Fatalf("SessionRescheduled: %v", err)
		}
	}

	request(a)
	move(a, b)
	request(b)
	move(b, a)
	request(a)

	got := jobStatuses(t, pool, "sess-1")
	if got[a] != "pending" {
		t.Fatalf("reminder for the original time must be live again, got %v", got)
	}
	if got[b] != "cancelled" {
		t.Fatalf("reminder for the abandoned time must stay cancelled, got %v", got)
	}
}

func TestInsertDoesNotResetLiveOrFinishedJobs(t *testing.T) {
	pool := dbtest.Open(t, migrations.FS)
	ctx := context.Background()
	repo := NewRepository()
	start := time.Date(2030, 3, 10, 15, 0, 0, 0, time.UTC)
	job := Job{
		IdempotencyKey:  idempotencyKey("sess-2", start.Add(-time.Hour), events.ChannelSMS),
		SessionID:       "sess-2",
		CoachID:         "coach-1",
		Channel:         events.ChannelSMS,
		Recipient:       "+15550100",
		RemindAt:        start.Add(-time.Hour),
		SessionStart:    start,
		DurationMinutes: 60,
	}
	insert := func() {
		t.Helper()
		if err := pool.InTx(ctx, func(tx pgx.Tx) error { return repo.Insert(ctx, tx, job) }); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	insert()
	if _, err := pool.Exec(ctx, `UPDATE scheduler_jobs SET attempts = 2 WHERE session_id = 'sess-2'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	insert()
	var attempts, count int
	if err := pool.QueryRow(ctx, `SELECT max(attempts), count(*) FROM scheduler_jobs WHERE session_id = 'sess-2'`).Scan(&attempts, &count); err != nil {
		t.Fatalf("select: %v", err)
	}
	if count != 1 || attempts != 2 {
		t.Fatalf("redelivery must not duplicate or reset a pending job: count=%d attempts=%d", count, attempts)
	}

	if _, err := pool.Exec(ctx, `UPDATE scheduler_jobs SET status = 'processed' WHERE session_id = 'sess-2'`); err != nil {
		t.Fatalf("update: %v", err)
	}
	insert()
	if got := jobStatuses(t, pool, "sess-2")[start]; got != "processed" {
		t.Fatalf("a sent reminder must not be queued again, status %q", got)
	}
}
