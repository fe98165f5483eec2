package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/segmentio/kafka-go"
)

var errInvalidRequest = errors.New("invalid reminder request")

// Intake consumes scheduling events and keeps the job table in step with
// the sessions they belong to.
type Intake struct {
	pool   *db.Pool
	repo   *Repository
	logger *slog.Logger
}

func NewIntake(pool *db.Pool, repo *Repository, logger *slog.Logger) *Intake {
	return &Intake{pool: pool, repo: repo, logger: logger}
}

func idempotencyKey(sessionID string, remindAt time.Time, channel string) string {
	return sessionID + "|" + remindAt.UTC().Format(time.RFC3339) + "|" + channel
}

func jobFromRequest(req events.ReminderRequested) (Job, error) {
	if req.SessionID == "" || req.Channel == "" || req.Recipient == "" || req.RemindAt.IsZero() || req.ScheduledDate.IsZero() {
		return Job{}, errInvalidRequest
	}
	if req.Channel != events.ChannelEmail && req.Channel != events.ChannelSMS {
		return Job{}, errInvalidRequest
	}
	return Job{
		IdempotencyKey:  idempotencyKey(req.SessionID, req.RemindAt, req.Channel),
		SessionID:       req.SessionID,
		CoachID:         req.CoachID,
		Channel:         req.Channel,
		Recipient:       req.Recipient,
		RemindAt:        req.RemindAt.UTC(),
		SessionStart:    req.ScheduledDate.UTC(),
		DurationMinutes: req.Duration,
	}, nil
}

// ReminderRequested stores one job. Malformed payloads are logged and dropped.
func (in *Intake) ReminderRequested(ctx context.Context, msg kafka.Message) error {
	var req events.ReminderRequested
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		in.logger.Error("invalid reminder request", "err", err)
		return nil
	}
	job, err := jobFromRequest(req)
	if err != nil {
		in.logger.Error("missing reminder fields", "session_id", req.SessionID, "channel", req.Channel)
		return nil
	}
	return in.pool.InTx(ctx, func(tx pgx.Tx) error {
		return in.repo.Insert(ctx, tx, job)
	})
}

func (in *Intake) SessionCancelled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionCancelled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.SessionID == "" {
		in.logger.Error("invalid session cancelled event", "err", err)
		return nil
	}
	return in.pool.InTx(ctx, func(tx pgx.Tx) error {
		n, err := in.repo.CancelPending(ctx, tx, evt.SessionID, nil)
		if err != nil {
			return err
		}
		in.logger.Info("reminders cancelled", "session_id", evt.SessionID, "count", n)
		return nil
	})
}

// SessionRescheduled drops reminders for the old start; the new ones arrive
// as separate reminder requests.
func (in *Intake) SessionRescheduled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionRescheduled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.SessionID == "" || evt.PreviousDate.IsZero() {
		in.logger.Error("invalid session rescheduled event", "err", err)
		return nil
	}
	if evt.PreviousDate.Equal(evt.ScheduledDate) {
		return nil
	}
	prev := evt.PreviousDate.UTC()
	return in.pool.InTx(ctx, func(tx pgx.Tx) error {
		n, err := in.repo.CancelPending(ctx, tx, evt.SessionID, &prev)
		if err != nil {
			return err
		}
		in.logger.Info("stale reminders cancelled", "session_id", evt.SessionID, "count", n)
		return nil
	})
}
