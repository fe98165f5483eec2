package availability

import "time"

type WeeklyCapacity struct {
	WeekStart      time.Time
	WeekEnd        time.Time
	TotalMinutes   int
	TotalCapacity  int
	BookedCount    int
	RemainingSpots int
}

// WeekBounds returns Sunday 00:00 of the week containing now and the
// following Sunday 00:00, both in loc.
func WeekBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	today := DayStart(now, loc)
	start := today.AddDate(0, 0, -int(today.Weekday()))
	return start, start.AddDate(0, 0, 7)
}

// Capacity sums the open minutes of the seven days from weekStart, skipping
// days covered by an exception, and divides by the session duration.
// windows holds active windows keyed by weekday.
func Capacity(weekStart time.Time, loc *time.Location, windows map[time.Weekday][]Window, exceptions []DateRange, duration time.Duration, booked int) WeeklyCapacity {
	start := DayStart(weekStart, loc)
	out := WeeklyCapacity{
		WeekStart:   start,
		WeekEnd:     start.AddDate(0, 0, 7),
		BookedCount: booked,
	}
	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		if AnyCovers(exceptions, day) {
			continue
		}
		for _, w := range windows[day.Weekday()] {
			out.TotalMinutes += w.Minutes()
		}
	}
	if mins := int(duration / time.Minute); mins > 0 {
		out.TotalCapacity = out.TotalMinutes / mins
	}
	out.RemainingSpots = out.TotalCapacity - booked
	if out.RemainingSpots < 0 {
		out.RemainingSpots = 0
	}
	return out
}
