package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/outbox"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Notification struct {
	ID            string
	SourceEvent   string
	SessionID     string
	CoachID       string
	Channel       string
	Recipient     string
	Subject       string
	Body          string
	Status        string
	ProviderID    string
	FailureReason string
}

type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

// Record stores the delivery attempt and enqueues notification.sent or
// notification.failed in the same transaction.
func (r *Repository) Record(ctx context.Context, n Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (id, source_event, session_id, coach_id, channel, recipient, subject, body, status, provider_id, failure_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, n.ID, n.SourceEvent, n.SessionID, n.CoachID, n.Channel, n.Recipient, n.Subject, n.Body, n.Status, n.ProviderID, n.FailureReason); err != nil {
			return err
		}
		evt, err := outbox.NewEvent("notification", n.ID, resultTopic(n.Status), Result(n))
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
}

func resultTopic(status string) string {
	if status == StatusSent {
		return events.TopicNotificationSent
	}
	return events.TopicNotificationFailed
}

func Result(n Notification) events.NotificationResult {
	return events.NotificationResult{
		NotificationID: n.ID,
		SourceEvent:    n.SourceEvent,
		SessionID:      n.SessionID,
		CoachID:        n.CoachID,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Status:         n.Status,
		Error:          n.FailureReason,
	}
}
