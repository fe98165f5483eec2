package metrics

import (
	"testing"
	"time"
)

func TestBuildReportIsDense(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	rep := BuildReport("coach-1", from, to, []Day{
		{Date: "2026-03-02", Delta: Delta{Booked: 3, Cancelled: 1}},
		{Date: "2026-03-04", Delta: Delta{Booked: 1, CrisisAlerts: 2, NotificationsSent: 5}},
	})

	if rep.From != "2026-03-01" || rep.To != "2026-03-04" || rep.CoachID != "coach-1" {
		t.Fatalf("unexpected header: %+v", rep)
	}
	if len(rep.Days) != 4 {
		t.Fatalf("expected 4 days, got %d", len(rep.Days))
	}
	if rep.Days[0].Date != "2026-03-01" || rep.Days[0].Booked != 0 {
		t.Fatalf("expected zero first day, got %+v", rep.Days[0])
	}
	if rep.Days[1].Booked != 3 || rep.Days[3].CrisisAlerts != 2 {
		t.Fatalf("stored days not placed: %+v", rep.Days)
	}
	want := Delta{Booked: 4, Cancelled: 1, CrisisAlerts: 2, NotificationsSent: 5}
	if rep.Totals != want {
		t.Fatalf("totals = %+v, want %+v", rep.Totals, want)
	}
}

func TestBuildReportSingleDayAndEmpty(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rep := BuildReport("c", day, day, nil)
	if len(rep.Days) != 1 || rep.Totals != (Delta{}) {
		t.Fatalf("unexpected report: %+v", rep)
	}

	rep = BuildReport("c", day, day.AddDate(0, 0, -1), nil)
	if rep.Days == nil || len(rep.Days) != 0 {
		t.Fatalf("inverted range should yield an empty, non-nil list: %+v", rep.Days)
	}
}

func TestDeltaAddHandlesNegatives(t *testing.T) {
	got := Delta{Booked: 2}.Add(Delta{Booked: -1, Rescheduled: 1})
	if got.Booked != 1 || got.Rescheduled != 1 {
		t.Fatalf("unexpected sum: %+v", got)
	}
}
