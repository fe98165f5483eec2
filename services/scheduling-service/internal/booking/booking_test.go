package booking

import (
	"testing"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

func TestReminderRequestsSkipsPastAndMissingRecipients(t *testing.T) {
	start := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	sess := model.Session{
		ID:              "s1",
		CoachID:         "coach-1",
		ScheduledDate:   start,
		DurationMinutes: 60,
		ClientEmail:     "client@example.com",
	}
	offsets := []time.Duration{24 * time.Hour, time.Hour}

	// 24h reminder is already past.
	now := start.Add(-2 * time.Hour)
	got := reminderRequests(sess, offsets, now)
	if len(got) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(got))
	}
	if got[0].Channel != events.ChannelEmail || !got[0].RemindAt.Equal(start.Add(-time.Hour)) {
		t.Fatalf("unexpected reminder %+v", got[0])
	}

	sess.ClientPhone = "+15550100"
	got = reminderRequests(sess, offsets, start.Add(-48*time.Hour))
	if len(got) != 4 {
		t.Fatalf("expected 4 reminders, got %d", len(got))
	}
	if got[1].Channel != events.ChannelSMS || got[1].Recipient != "+15550100" {
		t.Fatalf("unexpected sms reminder %+v", got[1])
	}
}

func TestFitsWindows(t *testing.T) {
	loc := time.UTC
	windows := []availability.Window{
		{Start: mustClock(t, "09:00"), End: mustClock(t, "12:00")},
		{Start: mustClock(t, "13:00"), End: mustClock(t, "17:00")},
	}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	cases := []struct {
		start string
		dur   time.Duration
		want  bool
	}{
		{"09:00", time.Hour, true},
		{"11:00", time.Hour, true},
		{"11:30", time.Hour, false},
		{"12:00", 30 * time.Minute, false},
		{"16:00", time.Hour, true},
		{"08:30", time.Hour, false},
	}
	for _, tc := range cases {
		c := mustClock(t, tc.start)
		iv := availability.SessionInterval(availability.At(day, c, loc), tc.dur)
		if got := fitsWindows(iv, windows, loc); got != tc.want {
			t.Fatalf("%s/%s: got %v want %v", tc.start, tc.dur, got, tc.want)
		}
	}
}

func TestBookInputValidate(t *testing.T) {
	ok := BookInput{CoachID: "c", ClientID: "u", Start: time.Now()}
	if err := ok.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, in := range []BookInput{
		{ClientID: "u", Start: time.Now()},
		{CoachID: "c", Start: time.Now()},
		{CoachID: "c", ClientID: "u"},
	} {
		if err := in.validate(); !apperr.IsCode(err, apperr.BadRequest) {
			t.Fatalf("expected BAD_REQUEST for %+v, got %v", in, err)
		}
	}
}

func TestSessionAccess(t *testing.T) {
	sess := model.Session{CoachID: "coach-1", ClientID: "client-1"}
	cases := []struct {
		name   string
		id     auth.Identity
		manage bool
		denied bool
	}{
		{"owning coach", auth.Identity{UserID: "u1", CoachID: "coach-1", Role: auth.RoleCoach}, true, false},
		{"admin", auth.Identity{UserID: "a", Role: auth.RoleAdmin}, true, false},
		{"booked client", auth.Identity{UserID: "client-1", CoachID: "coach-1", Role: auth.RoleClient}, false, false},
		{"other client", auth.Identity{UserID: "client-2", CoachID: "coach-1", Role: auth.RoleClient}, false, true},
		{"other coach", auth.Identity{UserID: "u2", CoachID: "coach-2", Role: auth.RoleCoach}, false, true},
	}
	for _, tc := range cases {
		manage, err := sessionAccess(tc.id, sess)
		if tc.denied {
			if !apperr.IsCode(err, apperr.Forbidden) {
				t.Fatalf("%s: expected FORBIDDEN, got %v", tc.name, err)
			}
			continue
		}
		if err != nil || manage != tc.manage {
			t.Fatalf("%s: manage=%v err=%v", tc.name, manage, err)
		}
	}
}

func TestDefaultWeek(t *testing.T) {
	week := DefaultWeek()
	if len(week) != 5 {
		t.Fatalf("expected 5 days, got %d", len(week))
	}
	for i, a := range week {
		if a.DayOfWeek != i+1 || a.StartTime != "09:00" || a.EndTime != "17:00" {
			t.Fatalf("unexpected default window %+v", a)
		}
	}
}

func TestFilterAfterIsStrict(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	slots := []time.Time{base, base.Add(30 * time.Minute), base.Add(time.Hour)}
	got := filterAfter(slots, base.Add(30*time.Minute))
	if len(got) != 1 || !got[0].Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected slots %v", got)
	}
	if got := filterAfter(nil, base); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
}

func mustClock(t *testing.T, s string) availability.Clock {
	t.Helper()
	c, err := availability.ParseClock(s)
	if err != nil {
		t.Fatalf("ParseClock(%q): %v", s, err)
	}
	return c
}
