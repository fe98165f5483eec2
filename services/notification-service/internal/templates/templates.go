// Package templates renders the plain-text messages the notification
// service sends.
package templates

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Message struct {
	Subject string
	Body    string
}

// Data is the union of fields the templates read.
type Data struct {
	SessionID       string
	ScheduledDate   time.Time
	DurationMinutes int
	PreviousDate    time.Time
	CancelledBy     string
	Reason          string
	TimeUntil       string
	Level           string
	Source          string
	Excerpt         string
	UserID          string
	ConversationID  string
	DetectedAt      time.Time
	Name            string
	Role            string
	Tier            string
	Status          string
	Location        *time.Location
	Brand           string
}

const (
	Booked        = "booked"
	Rescheduled   = "rescheduled"
	Cancelled     = "cancelled"
	ReminderEmail = "reminder_email"
	ReminderSMS   = "reminder_sms"
	CrisisAlert   = "crisis_alert"
	Welcome       = "welcome"

	SubscriptionActive  = "subscription_active"
	SubscriptionPastDue = "subscription_past_due"
	SubscriptionEnded   = "subscription_ended"
)

var funcs = template.FuncMap{
	"when": func(t time.Time, loc *time.Location) string {
		if loc == nil {
			loc = time.UTC
		}
		return t.In(loc).Format("Monday, January 2, 2006 at 3:04 PM MST")
	},
	"upper": strings.ToUpper,
	"plan":  PlanName,
}

var subjects = map[string]*template.Template{
	Booked:        mustParse("booked.subject", `Your coaching session is confirmed`),
	Rescheduled:   mustParse("rescheduled.subject", `Your coaching session has moved`),
	Cancelled:     mustParse("cancelled.subject", `Your coaching session was cancelled`),
	ReminderEmail: mustParse("reminder.subject", `Reminder: coaching session {{.TimeUntil}}`),
	CrisisAlert:   mustParse("crisis.subject", `CRISIS ALERT: {{upper .Level}} risk detected`),
	Welcome:       mustParse("welcome.subject", `Welcome to {{.Brand}}`),

	SubscriptionActive:  mustParse("subscription_active.subject", `Your {{plan .Tier}} plan is active`),
	SubscriptionPastDue: mustParse("subscription_past_due.subject", `Payment problem with your {{plan .Tier}} plan`),
	SubscriptionEnded:   mustParse("subscription_ended.subject", `Your {{plan .Tier}} plan has ended`),
}

var bodies = map[string]*template.Template{
	Booked: mustParse("booked.body", `Your {{.DurationMinutes}} minute session is booked for {{when .ScheduledDate .Location}}.

Need to change it? You can reschedule or cancel from your dashboard.

- {{.Brand}}`),
	Rescheduled: mustParse("rescheduled.body", `Your session originally on {{when .PreviousDate .Location}} is now on {{when .ScheduledDate .Location}} ({{.DurationMinutes}} minutes).

- {{.Brand}}`),
	Cancelled: mustParse("cancelled.body", `Your session on {{when .ScheduledDate .Location}} was cancelled by the {{.CancelledBy}}.{{if .Reason}}
Reason: {{.Reason}}{{end}}

- {{.Brand}}`),
	ReminderEmail: mustParse("reminder.body", `This is a reminder that your coaching session is {{.TimeUntil}}, on {{when .ScheduledDate .Location}}.

- {{.Brand}}`),
	ReminderSMS: mustParse("reminder.sms", `Hi! Reminder: your coaching session is {{.TimeUntil}} ({{when .ScheduledDate .Location}}). - {{.Brand}}`),
	CrisisAlert: mustParse("crisis.body", `A {{.Level}} risk message was detected ({{.Source}}) at {{when .DetectedAt .Location}}.

User: {{.UserID}}
Conversation: {{.ConversationID}}

Message:
"{{.Excerpt}}"

Review and acknowledge the alert in the admin console.`),
	Welcome: mustParse("welcome.body", `Hi{{if .Name}} {{.Name}}{{end}},

Your {{.Role}} account is ready.{{if eq .Role "coach"}} Set your weekly availability and session types so clients can start booking.{{else}} You can book your first session whenever you are ready.{{end}}

- {{.Brand}}`),
	SubscriptionActive: mustParse("subscription_active.body", `Hi,

Your {{plan .Tier}} plan is now {{if eq .Status "trialing"}}in its free trial{{else}}active{{end}}. Your new limits apply right away.

- {{.Brand}}`),
	SubscriptionPastDue: mustParse("subscription_past_due.body", `Hi,

We could not collect the latest payment for your {{plan .Tier}} plan. Until it goes through your account uses the free plan limits.

Update your payment method from the billing page to restore your plan.

- {{.Brand}}`),
	SubscriptionEnded: mustParse("subscription_ended.body", `Hi,

Your {{plan .Tier}} plan has ended and your account is back on the free plan. You can subscribe again at any time.

- {{.Brand}}`),
}

func mustParse(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(funcs).Parse(text))
}

// Render builds the message for kind. SMS kinds have no subject.
func Render(kind string, d Data) (Message, error) {
	body, ok := bodies[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown template %q", kind)
	}
	if d.Brand == "" {
		d.Brand = "Purposeful Live Coaching"
	}
	var msg Message
	if subj, ok := subjects[kind]; ok {
		var buf bytes.Buffer
		if err := subj.Execute(&buf, d); err != nil {
			return Message{}, err
		}
		msg.Subject = buf.String()
	}
	var buf bytes.Buffer
	if err := body.Execute(&buf, d); err != nil {
		return Message{}, err
	}
	msg.Body = buf.String()
	return msg, nil
}

// PlanName turns a tier id into its display name ("ai_premium" is "AI Premium").
func PlanName(tier string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(tier)), "_")
	for i, p := range parts {
		switch {
		case p == "ai":
			parts[i] = "AI"
		case p != "":
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// TimeUntil phrases the gap between now and start ("in 1 hour", "in 2 days").
func TimeUntil(start, now time.Time) string {
	d := start.Sub(now)
	switch {
	case d <= 0:
		return "now"
	case d < time.Hour:
		return plural(int((d+time.Minute-1)/time.Minute), "minute")
	case d < 48*time.Hour:
		return plural(int((d+30*time.Minute)/time.Hour), "hour")
	default:
		return plural(int((d+12*time.Hour)/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "in 1 " + unit
	}
	return fmt.Sprintf("in %d %ss", n, unit)
}
