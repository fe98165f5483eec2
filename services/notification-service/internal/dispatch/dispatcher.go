// Package dispatch turns domain events into delivered messages. Every
// attempt, successful or not, is recorded together with its outcome event.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/email"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/sms"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/storage"
	"github.com/purposefullive/coaching-platform/services/notification-service/internal/templates"
	"github.com/segmentio/kafka-go"
)

type Recorder interface {
	Record(ctx context.Context, n storage.Notification) error
}

type Config struct {
	// FailSuffix makes deliveries to recipients ending in it fail without
	// contacting a provider. Used by end-to-end tests.
	FailSuffix string
	OwnerEmail string
	Location   *time.Location
	Brand      string
}

type Dispatcher struct {
	email  email.Sender
	sms    sms.Sender
	rec    Recorder
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func New(emailSender email.Sender, smsSender sms.Sender, rec Recorder, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		email:  emailSender,
		sms:    smsSender,
		rec:    rec,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (d *Dispatcher) data() templates.Data {
	return templates.Data{Location: d.cfg.Location, Brand: d.cfg.Brand}
}

func decode(msg kafka.Message, v any) bool {
	return json.Unmarshal(msg.Value, v) == nil
}

func (d *Dispatcher) SessionBooked(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionBooked
	if !decode(msg, &evt) || evt.SessionID == "" {
		d.logger.Error("invalid session booked payload")
		return nil
	}
	if evt.ClientEmail == "" {
		d.logger.Info("no client email, confirmation skipped", "session_id", evt.SessionID)
		return nil
	}
	data := d.data()
	data.SessionID = evt.SessionID
	data.ScheduledDate = evt.ScheduledDate
	data.DurationMinutes = evt.DurationMinutes
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicSessionBooked,
		SessionID:   evt.SessionID,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   evt.ClientEmail,
	}, templates.Booked, data)
}

func (d *Dispatcher) SessionRescheduled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionRescheduled
	if !decode(msg, &evt) || evt.SessionID == "" {
		d.logger.Error("invalid session rescheduled payload")
		return nil
	}
	if evt.ClientEmail == "" {
		return nil
	}
	data := d.data()
	data.SessionID = evt.SessionID
	data.ScheduledDate = evt.ScheduledDate
	data.PreviousDate = evt.PreviousDate
	data.DurationMinutes = evt.DurationMinutes
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicSessionRescheduled,
		SessionID:   evt.SessionID,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   evt.ClientEmail,
	}, templates.Rescheduled, data)
}

func (d *Dispatcher) SessionCancelled(ctx context.Context, msg kafka.Message) error {
	var evt events.SessionCancelled
	if !decode(msg, &evt) || evt.SessionID == "" {
		d.logger.Error("invalid session cancelled payload")
		return nil
	}
	if evt.ClientEmail == "" {
		return nil
	}
	data := d.data()
	data.SessionID = evt.SessionID
	data.ScheduledDate = evt.ScheduledDate
	data.CancelledBy = evt.CancelledBy
	data.Reason = evt.Reason
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicSessionCancelled,
		SessionID:   evt.SessionID,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   evt.ClientEmail,
	}, templates.Cancelled, data)
}

func (d *Dispatcher) ReminderDue(ctx context.Context, msg kafka.Message) error {
	var evt events.ReminderDue
	if !decode(msg, &evt) || evt.SessionID == "" || evt.Recipient == "" || evt.ScheduledDate.IsZero() {
		d.logger.Error("invalid reminder payload")
		return nil
	}
	data := d.data()
	data.SessionID = evt.SessionID
	data.ScheduledDate = evt.ScheduledDate
	data.DurationMinutes = evt.Duration
	data.TimeUntil = templates.TimeUntil(evt.ScheduledDate, d.now())

	kind := templates.ReminderEmail
	switch evt.Channel {
	case events.ChannelEmail:
	case events.ChannelSMS:
		kind = templates.ReminderSMS
	default:
		return d.rec.Record(ctx, storage.Notification{
			SourceEvent:   events.TopicReminderDue,
			SessionID:     evt.SessionID,
			CoachID:       evt.CoachID,
			Channel:       evt.Channel,
			Recipient:     evt.Recipient,
			Status:        storage.StatusFailed,
			FailureReason: "unsupported channel: " + evt.Channel,
		})
	}
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicReminderDue,
		SessionID:   evt.SessionID,
		CoachID:     evt.CoachID,
		Channel:     evt.Channel,
		Recipient:   evt.Recipient,
	}, kind, data)
}

// CrisisDetected alerts the platform owner. Without OWNER_EMAIL the alert is
// only logged; the aichat service keeps the alert record either way.
func (d *Dispatcher) CrisisDetected(ctx context.Context, msg kafka.Message) error {
	var evt events.CrisisDetected
	if !decode(msg, &evt) || evt.AlertID == "" {
		d.logger.Error("invalid crisis payload")
		return nil
	}
	if d.cfg.OwnerEmail == "" {
		d.logger.Warn("crisis alert not emailed, owner email unset", "alert_id", evt.AlertID, "level", evt.Level)
		return nil
	}
	data := d.data()
	data.Level = evt.Level
	data.Source = evt.Source
	data.Excerpt = evt.Excerpt
	data.UserID = evt.UserID
	data.ConversationID = evt.ConversationID
	data.DetectedAt = evt.DetectedAt
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicCrisisDetected,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   d.cfg.OwnerEmail,
	}, templates.CrisisAlert, data)
}

func (d *Dispatcher) UserRegistered(ctx context.Context, msg kafka.Message) error {
	var evt events.UserRegistered
	if !decode(msg, &evt) || evt.UserID == "" || evt.Email == "" {
		d.logger.Error("invalid user registered payload")
		return nil
	}
	data := d.data()
	data.Name = evt.Name
	data.Role = evt.Role
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicUserRegistered,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   evt.Email,
	}, templates.Welcome, data)
}

// subscriptionTemplate picks the message for a status change, or "" when
// the change is not worth telling the client about.
func subscriptionTemplate(status, previous string) string {
	entitled := func(s string) bool { return s == "active" || s == "trialing" }
	switch {
	case entitled(status) && !entitled(previous):
		return templates.SubscriptionActive
	case status == "past_due" && previous != "past_due":
		return templates.SubscriptionPastDue
	case status == "canceled" || status == "unpaid":
		if previous != status && previous != "none" && previous != "" {
			return templates.SubscriptionEnded
		}
	}
	return ""
}

func (d *Dispatcher) SubscriptionChanged(ctx context.Context, msg kafka.Message) error {
	var evt events.SubscriptionChanged
	if !decode(msg, &evt) || evt.ClientID == "" || evt.Status == "" {
		d.logger.Error("invalid subscription changed payload")
		return nil
	}
	if evt.Email == "" {
		d.logger.Info("no client email, subscription notice skipped", "client_id", evt.ClientID)
		return nil
	}
	kind := subscriptionTemplate(evt.Status, evt.PreviousStatus)
	if kind == "" {
		return nil
	}
	data := d.data()
	data.Tier = evt.PlanTier
	data.Status = evt.Status
	return d.render(ctx, storage.Notification{
		SourceEvent: events.TopicSubscriptionChanged,
		CoachID:     evt.CoachID,
		Channel:     events.ChannelEmail,
		Recipient:   evt.Email,
	}, kind, data)
}

// render fills n's subject and body from the kind template and delivers it.
func (d *Dispatcher) render(ctx context.Context, n storage.Notification, kind string, data templates.Data) error {
	msg, err := templates.Render(kind, data)
	if err != nil {
		d.logger.Error("template render failed", "err", err, "template", kind)
		return nil
	}
	n.Subject = msg.Subject
	n.Body = msg.Body
	return d.deliver(ctx, n)
}

func (d *Dispatcher) deliver(ctx context.Context, n storage.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = storage.StatusSent
	switch {
	case d.cfg.FailSuffix != "" && strings.HasSuffix(n.Recipient, d.cfg.FailSuffix):
		n.Status = storage.StatusFailed
		n.FailureReason = "simulated failure"
	case n.Channel == events.ChannelEmail:
		if err := d.email.Send(ctx, n.Recipient, n.Subject, n.Body); err != nil {
			n.Status = storage.StatusFailed
			n.FailureReason = err.Error()
		} else {
			n.ProviderID = d.email.ProviderID()
		}
	case n.Channel == events.ChannelSMS:
		if err := d.sms.Send(ctx, sms.Message{To: n.Recipient, Body: n.Body, Reference: n.ID, SessionID: n.SessionID}); err != nil {
			n.Status = storage.StatusFailed
			n.FailureReason = err.Error()
		} else {
			n.ProviderID = d.sms.ProviderID()
		}
	}
	if n.Status == storage.StatusFailed {
		d.logger.Error("notification failed", "source", n.SourceEvent, "channel", n.Channel, "recipient", n.Recipient, "reason", n.FailureReason)
	}
	if err := d.rec.Record(ctx, n); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}
	d.logger.Info("notification processed", "source", n.SourceEvent, "session_id", n.SessionID, "channel", n.Channel, "status", n.Status)
	return nil
}
