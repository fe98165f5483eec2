package availability

import "time"

const DefaultStep = 30 * time.Minute

// Config holds the knobs of the slot generator.
type Config struct {
	// Step between candidate starts inside a window.
	Step time.Duration
	// Lead is added to now; candidates must start strictly after now+Lead.
	Lead time.Duration
	// Location interprets recurring HH:MM windows and calendar days.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.Lead < 0 {
		c.Lead = 0
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// DayPlan is everything known about one coach on one calendar day.
type DayPlan struct {
	Day        time.Time
	Windows    []Window
	Exceptions []DateRange
	Busy       []Interval
}

// Slots lists bookable session starts for plan. Each window is walked from
// its start in Step increments and the per-window results are concatenated
// in window order; the output is not re-sorted across windows. A day covered
// by any exception yields no slots.
func (c Config) Slots(plan DayPlan, duration time.Duration, now time.Time) []time.Time {
	c = c.withDefaults()
	slots := []time.Time{}
	if duration <= 0 {
		return slots
	}
	day := plan.Day.In(c.Location)
	if AnyCovers(plan.Exceptions, day) {
		return slots
	}

	earliest := now.Add(c.Lead)
	for _, w := range plan.Windows {
		start := At(day, w.Start, c.Location)
		end := At(day, w.End, c.Location)
		slots = append(slots, AvailableSlots(start, end, duration, c.Step, plan.Busy, earliest)...)
	}
	return slots
}

// AvailableSlots returns starts t in [windowStart, windowEnd) where
// [t, t+duration) fits the window, t is strictly after earliest and the
// session overlaps none of busy.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if !t.After(earliest) {
			continue
		}
		if !OverlapsAny(SessionInterval(t, duration), busy) {
			slots = append(slots, t)
		}
	}
	return slots
}
