// Package ingest folds domain events into the coach daily counters.
// Session events count on the day the session is scheduled for; delivery
// and crisis events count on the day they happened.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/analytics-service/internal/metrics"
	"github.com/segmentio/kafka-go"
)

type Store interface {
	Apply(ctx context.Context, coachID string, changes ...metrics.Change) error
	RecordDeadLetter(ctx context.Context, evt events.ReminderDue, failedAt, day time.Time) error
}

type Ingestor struct {
	store  Store
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, loc *time.Location) *Ingestor {
	if loc == nil {
		loc = time.UTC
	}
	return &Ingestor{store: store, logger: logger, loc: loc, now: time.Now}
}

func (in *Ingestor) day(t time.Time) time.Time {
	y, m, d := t.In(in.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// occurredAt prefers the broker timestamp of msg.
func (in *Ingestor) occurredAt(msg kafka.Message) time.Time {
	if !msg.Time.IsZero() {
		return msg.Time
	}
	return in.now()
}

func (in *Ingestor) apply(ctx context.Context, kind, coachID string, changes ...metrics.Change) error {
	if err := in.store.Apply(ctx, coachID, changes...); err != nil {
		in.logger.Error("failed to update coach metrics", "kind", kind, "coach_id", coachID, "err", err)
		return err
	}
	return nil
}

func (in *Ingestor) SessionBooked(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionBooked
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.CoachID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session booked payload")
		return nil
	}
	return in.apply(ctx, "booked", evt.CoachID, metrics.Change{
		Day:   in.day(evt.ScheduledDate),
		Delta: metrics.Delta{Booked: 1},
	})
}

// SessionRescheduled moves the booking from the old day to the new one.
func (in *Ingestor) SessionRescheduled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionRescheduled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.CoachID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session rescheduled payload")
		return nil
	}
	changes := []metrics.Change{{
		Day:   in.day(evt.ScheduledDate),
		Delta: metrics.Delta{Booked: 1, Rescheduled: 1},
	}}
	if !evt.PreviousDate.IsZero() {
		changes = append(changes, metrics.Change{
			Day:   in.day(evt.PreviousDate),
			Delta: metrics.Delta{Booked: -1},
		})
	}
	return in.apply(ctx, "rescheduled", evt.CoachID, changes...)
}

func (in *Ingestor) SessionCancelled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionCancelled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.CoachID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session cancelled payload")
		return nil
	}
	return in.apply(ctx, "cancelled", evt.CoachID, metrics.Change{
		Day:   in.day(evt.ScheduledDate),
		Delta: metrics.Delta{Cancelled: 1},
	})
}

// NotificationResult handles both the sent and the failed topic.
func (in *Ingestor) NotificationResult(ctx context.Context, msg kafka.Message) error {
	var evt events.NotificationResult
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.Status == "" {
		in.logger.Error("invalid notification result payload")
		return nil
	}
	if evt.CoachID == "" {
		return nil
	}
	delta := metrics.Delta{NotificationsSent: 1}
	if evt.Status != "sent" {
		delta = metrics.Delta{NotificationsFailed: 1}
	}
	return in.apply(ctx, "notification", evt.CoachID, metrics.Change{Day: in.day(in.occurredAt(msg)), Delta: delta})
}

func (in *Ingestor) ReminderDeadLettered(ctx context.Context, msg kafka.Message) error {
	var evt events.ReminderDue
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.SessionID == "" || evt.CoachID == "" {
		in.logger.Error("invalid reminder dlq payload")
		return nil
	}
	failedAt := in.occurredAt(msg)
	if err := in.store.RecordDeadLetter(ctx, evt, failedAt, in.day(failedAt)); err != nil {
		in.logger.Error("failed to record dead-lettered reminder", "session_id", evt.SessionID, "err", err)
		return err
	}
	in.logger.Warn("reminder dead-lettered", "session_id", evt.SessionID, "coach_id", evt.CoachID, "reason", evt.ErrorReason)
	return nil
}

func (in *Ingestor) CrisisDetected(ctx context.Context, msg kafka.Message) error {
	var evt events.CrisisDetected
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.AlertID == "" {
		in.logger.Error("invalid crisis payload")
		return nil
	}
	if evt.CoachID == "" {
		return nil
	}
	at := evt.DetectedAt
	if at.IsZero() {
		at = in.occurredAt(msg)
	}
	return in.apply(ctx, "crisis", evt.CoachID, metrics.Change{Day: in.day(at), Delta: metrics.Delta{CrisisAlerts: 1}})
}
