package availability

import "time"

// DateRange is an inclusive range of calendar dates. Only the year, month
// and day of Start and End are read, as stored (no zone conversion).
type DateRange struct {
	Start time.Time
	End   time.Time
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// Covers reports whether the calendar day of day (in its own location) lies
// in the range.
func (r DateRange) Covers(day time.Time) bool {
	k := dateKey(day)
	return dateKey(r.Start) <= k && k <= dateKey(r.End)
}

func (r DateRange) Valid() bool {
	return dateKey(r.Start) <= dateKey(r.End)
}

func AnyCovers(ranges []DateRange, day time.Time) bool {
	for _, r := range ranges {
		if r.Covers(day) {
			return true
		}
	}
	return false
}

// DayStart is local midnight of t's calendar day in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// At returns the instant of clock c on day's calendar date in loc.
func At(day time.Time, c Clock, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}
