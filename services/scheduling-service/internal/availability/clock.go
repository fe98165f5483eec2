package availability

import (
	"fmt"
	"regexp"
	"strconv"
)

var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Clock is a wall-clock time of day in minutes after midnight.
type Clock int

// ParseClock accepts "HH:MM" with a 24-hour clock.
func ParseClock(s string) (Clock, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("time %q is out of range", s)
	}
	return Clock(h*60 + m), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is one recurring open interval [Start, End) within a day.
type Window struct {
	Start Clock
	End   Clock
}

func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	if e <= s {
		return Window{}, fmt.Errorf("end time %s must be after start time %s", end, start)
	}
	return Window{Start: s, End: e}, nil
}

func (w Window) Minutes() int { return int(w.End - w.Start) }
