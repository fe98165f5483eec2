// Package usage meters what each client consumes per calendar month: AI
// chat messages and booked human coaching sessions.
package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/billing-service/internal/subscriptions"
	"github.com/segmentio/kafka-go"
)

type Store interface {
	AddUsage(ctx context.Context, clientID string, month time.Time, aiMessages, humanSessions int) error
}

type Ingestor struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, logger: logger, now: time.Now}
}

func (in *Ingestor) add(ctx context.Context, kind, clientID string, at time.Time, ai, human int) error {
	if err := in.store.AddUsage(ctx, clientID, subscriptions.MonthOf(at), ai, human); err != nil {
		in.logger.Error("failed to record usage", "kind", kind, "client_id", clientID, "err", err)
		return err
	}
	return nil
}

func (in *Ingestor) ChatMessageSent(ctx context.Context, msg kafka.Message) error {
	var evt events.ChatMessageSent
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.UserID == "" {
		in.logger.Error("invalid chat message payload")
		return nil
	}
	at := evt.SentAt
	if at.IsZero() {
		at = msg.Time
	}
	if at.IsZero() {
		at = in.now()
	}
	return in.add(ctx, "chat", evt.UserID, at, 1, 0)
}

// Sessions count against the month they are scheduled in.
func (in *Ingestor) SessionBooked(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionBooked
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ClientID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session booked payload")
		return nil
	}
	return in.add(ctx, "booked", evt.ClientID, evt.ScheduledDate, 0, 1)
}

func (in *Ingestor) SessionCancelled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionCancelled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ClientID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session cancelled payload")
		return nil
	}
	return in.add(ctx, "cancelled", evt.ClientID, evt.ScheduledDate, 0, -1)
}

func (in *Ingestor) SessionRescheduled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionRescheduled
	if err := json.Unmarshal(msg.Value, &evt); err != nil || evt.ClientID == "" || evt.ScheduledDate.IsZero() {
		in.logger.Error("invalid session rescheduled payload")
		return nil
	}
	if evt.PreviousDate.IsZero() {
		return nil
	}
	from, to := subscriptions.MonthOf(evt.PreviousDate), subscriptions.MonthOf(evt.ScheduledDate)
	if from.Equal(to) {
		return nil
	}
	if err := in.add(ctx, "rescheduled", evt.ClientID, to, 0, 1); err != nil {
		return err
	}
	return in.add(ctx, "rescheduled", evt.ClientID, from, 0, -1)
}
