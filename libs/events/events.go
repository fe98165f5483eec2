// Package events holds the Kafka topics and payloads exchanged between
// services. Topic names carry a version suffix; a breaking payload change
// gets a new topic.
package events

import "time"

const (
	TopicSessionBooked       = "scheduling.session.booked.v1"
	TopicSessionRescheduled  = "scheduling.session.rescheduled.v1"
	TopicSessionCancelled    = "scheduling.session.cancelled.v1"
	TopicReminderRequested   = "scheduling.reminder.requested.v1"
	TopicReminderDue         = "scheduler.reminder.due.v1"
	TopicReminderDLQ         = "scheduler.reminder.dlq.v1"
	TopicCrisisDetected      = "aichat.crisis.detected.v1"
	TopicNotificationSent    = "notification.sent.v1"
	TopicNotificationFailed  = "notification.failed.v1"
	TopicUserRegistered      = "auth.user.registered.v1"
	TopicChatMessageSent     = "aichat.message.sent.v1"
	TopicSubscriptionChanged = "billing.subscription.changed.v1"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

type SessionBooked struct {
	SessionID       string    `json:"session_id"`
	CoachID         string    `json:"coach_id"`
	ClientID        string    `json:"client_id"`
	SessionTypeID   string    `json:"session_type_id,omitempty"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	DurationMinutes int       `json:"duration_minutes"`
	PaymentStatus   string    `json:"payment_status"`
	ClientEmail     string    `json:"client_email,omitempty"`
	ClientPhone     string    `json:"client_phone,omitempty"`
}

type SessionRescheduled struct {
	SessionID       string    `json:"session_id"`
	CoachID         string    `json:"coach_id"`
	ClientID        string    `json:"client_id"`
	PreviousDate    time.Time `json:"previous_date"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	DurationMinutes int       `json:"duration_minutes"`
	ClientEmail     string    `json:"client_email,omitempty"`
	ClientPhone     string    `json:"client_phone,omitempty"`
}

type SessionCancelled struct {
	SessionID     string    `json:"session_id"`
	CoachID       string    `json:"coach_id"`
	ClientID      string    `json:"client_id"`
	ScheduledDate time.Time `json:"scheduled_date"`
	CancelledBy   string    `json:"cancelled_by"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
	ClientEmail   string    `json:"client_email,omitempty"`
}

// ReminderRequested asks the scheduler to deliver one reminder at RemindAt.
type ReminderRequested struct {
	SessionID     string    `json:"session_id"`
	CoachID       string    `json:"coach_id"`
	Channel       string    `json:"channel"`
	Recipient     string    `json:"recipient"`
	RemindAt      time.Time `json:"remind_at"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Duration      int       `json:"duration_minutes"`
}

// ReminderDue is emitted by the scheduler when a reminder must go out now.
type ReminderDue struct {
	SessionID     string    `json:"session_id"`
	CoachID       string    `json:"coach_id"`
	Channel       string    `json:"channel"`
	Recipient     string    `json:"recipient"`
	RemindAt      time.Time `json:"remind_at"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Duration      int       `json:"duration_minutes"`
	ErrorReason   string    `json:"error_reason,omitempty"`
}

type CrisisDetected struct {
	AlertID        string    `json:"alert_id"`
	UserID         string    `json:"user_id"`
	CoachID        string    `json:"coach_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Level          string    `json:"level"`
	Source         string    `json:"source"`
	Excerpt        string    `json:"excerpt"`
	DetectedAt     time.Time `json:"detected_at"`
}

type UserRegistered struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	CoachID      string    `json:"coach_id,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// ChatMessageSent is emitted once per user message answered by the assistant.
type ChatMessageSent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	CoachID        string    `json:"coach_id,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// SubscriptionChanged is emitted when a client's effective tier or status
// changes. Tier is the entitled tier, "free" when the status grants nothing.
type SubscriptionChanged struct {
	ClientID       string    `json:"client_id"`
	CoachID        string    `json:"coach_id,omitempty"`
	Email          string    `json:"email,omitempty"`
	Tier           string    `json:"tier"`
	PlanTier       string    `json:"plan_tier"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

type NotificationResult struct {
	NotificationID string `json:"notification_id"`
	SourceEvent    string `json:"source_event"`
	SessionID      string `json:"session_id,omitempty"`
	CoachID        string `json:"coach_id,omitempty"`
	Channel        string `json:"channel"`
	Recipient      string `json:"recipient"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}
