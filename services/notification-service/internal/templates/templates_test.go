package templates

import (
	"strings"
	"testing"
	"time"
)

func TestTimeUntil(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		start time.Time
		want  string
	}{
		{now.Add(-time.Minute), "now"},
		{now.Add(30 * time.Second), "in 1 minute"},
		{now.Add(15 * time.Minute), "in 15 minutes"},
		{now.Add(time.Hour), "in 1 hour"},
		{now.Add(24 * time.Hour), "in 24 hours"},
		{now.Add(72 * time.Hour), "in 3 days"},
	}
	for _, tc := range cases {
		if got := TimeUntil(tc.start, now); got != tc.want {
			t.Fatalf("TimeUntil(%s) = %q, want %q", tc.start.Sub(now), got, tc.want)
		}
	}
}

func TestRenderReminderSMSHasNoSubject(t *testing.T) {
	msg, err := Render(ReminderSMS, Data{
		ScheduledDate: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		TimeUntil:     "in 1 hour",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "" {
		t.Fatalf("sms should have no subject, got %q", msg.Subject)
	}
	if !strings.HasPrefix(msg.Body, "Hi! Reminder: your coaching session is in 1 hour") {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "Purposeful Live Coaching") {
		t.Fatalf("default brand missing: %q", msg.Body)
	}
}

func TestRenderUsesLocation(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	msg, err := Render(Booked, Data{
		ScheduledDate:   time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		Location:        loc,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.Body, "Monday, March 2, 2026 at 9:00 AM EST") {
		t.Fatalf("time not localized: %q", msg.Body)
	}
}

func TestRenderCancelledReasonOptional(t *testing.T) {
	msg, err := Render(Cancelled, Data{CancelledBy: "coach"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(msg.Body, "Reason:") {
		t.Fatalf("empty reason rendered: %q", msg.Body)
	}
	msg, _ = Render(Cancelled, Data{CancelledBy: "coach", Reason: "illness"})
	if !strings.Contains(msg.Body, "Reason: illness") {
		t.Fatalf("reason missing: %q", msg.Body)
	}
}

func TestRenderCrisisSubject(t *testing.T) {
	msg, err := Render(CrisisAlert, Data{Level: "critical", Excerpt: "..."})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "CRISIS ALERT: CRITICAL risk detected" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	if _, err := Render("nope", Data{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlanName(t *testing.T) {
	cases := map[string]string{
		"ai_premium":  "AI Premium",
		"human_elite": "Human Elite",
		"free":        "Free",
	}
	for in, want := range cases {
		if got := PlanName(in); got != want {
			t.Fatalf("PlanName(%q) = %q want %q", in, got, want)
		}
	}
}
