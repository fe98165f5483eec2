package booking

import (
	"context"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

// AvailableSlots lists bookable starts for coachID on the calendar day of
// date (read in the scheduling location).
func (s *Service) AvailableSlots(ctx context.Context, coachID string, date time.Time, durationMinutes int) ([]time.Time, error) {
	if coachID == "" {
		return nil, apperr.New(apperr.BadRequest, "coach_id is required")
	}
	if err := s.validateDuration(durationMinutes); err != nil {
		return nil, err
	}
	loc := s.Location()
	day := availability.DayStart(date, loc)
	dayKey := day.Format("2006-01-02")
	now := s.now()
	earliest := now.Add(s.cfg.Slots.Lead)

	cached, version, ok := s.cache.Get(ctx, coachID, dayKey, durationMinutes)
	if ok {
		return filterAfter(cached, earliest), nil
	}

	plan, err := s.loadDayPlan(ctx, coachID, day)
	if err != nil {
		return nil, err
	}
	// The cached list covers the whole day; the lead cut-off is applied per read.
	whole := s.cfg.Slots
	whole.Lead = 0
	all := whole.Slots(plan, time.Duration(durationMinutes)*time.Minute, day.Add(-time.Nanosecond))
	if err := s.cache.Set(ctx, coachID, dayKey, durationMinutes, version, all); err != nil {
		s.logger.Warn("slot cache write failed", "coach_id", coachID, "err", err)
	}
	return filterAfter(all, earliest), nil
}

func filterAfter(slots []time.Time, earliest time.Time) []time.Time {
	out := make([]time.Time, 0, len(slots))
	for _, t := range slots {
		if t.After(earliest) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) loadDayPlan(ctx context.Context, coachID string, day time.Time) (availability.DayPlan, error) {
	rows, err := s.repos.Availability.List(ctx, coachID, int(day.Weekday()), true)
	if err != nil {
		return availability.DayPlan{}, err
	}
	windows, err := toWindows(rows)
	if err != nil {
		return availability.DayPlan{}, err
	}
	excs, err := s.repos.Exceptions.ListOverlapping(ctx, nil, coachID, day, day)
	if err != nil {
		return availability.DayPlan{}, err
	}
	booked, err := s.repos.Sessions.ListScheduledOverlapping(ctx, nil, coachID, day, day.AddDate(0, 0, 1), "")
	if err != nil {
		return availability.DayPlan{}, err
	}
	return availability.DayPlan{
		Day:        day,
		Windows:    windows,
		Exceptions: toRanges(excs),
		Busy:       toIntervals(booked),
	}, nil
}

// IsTimeSlotAvailable reports whether [start, start+duration) overlaps no
// scheduled session of the coach.
func (s *Service) IsTimeSlotAvailable(ctx context.Context, coachID string, start time.Time, durationMinutes int) (bool, error) {
	if coachID == "" {
		return false, apperr.New(apperr.BadRequest, "coach_id is required")
	}
	if err := s.validateDuration(durationMinutes); err != nil {
		return false, err
	}
	iv := availability.SessionInterval(start, time.Duration(durationMinutes)*time.Minute)
	booked, err := s.repos.Sessions.ListScheduledOverlapping(ctx, nil, coachID, iv.Start, iv.End, "")
	if err != nil {
		return false, err
	}
	return !availability.OverlapsAny(iv, toIntervals(booked)), nil
}

// WeeklyAvailability reports capacity for the Sunday-start week containing now.
func (s *Service) WeeklyAvailability(ctx context.Context, coachID string, durationMinutes int) (availability.WeeklyCapacity, error) {
	if coachID == "" {
		return availability.WeeklyCapacity{}, apperr.New(apperr.BadRequest, "coach_id is required")
	}
	if err := s.validateDuration(durationMinutes); err != nil {
		return availability.WeeklyCapacity{}, err
	}
	loc := s.Location()
	start, end := availability.WeekBounds(s.now(), loc)

	rows, err := s.repos.Availability.List(ctx, coachID, -1, true)
	if err != nil {
		return availability.WeeklyCapacity{}, err
	}
	byDay := map[time.Weekday][]availability.Window{}
	for _, row := range rows {
		w, err := availability.ParseWindow(row.StartTime, row.EndTime)
		if err != nil {
			s.logger.Warn("skipping malformed availability row", "id", row.ID, "err", err)
			continue
		}
		byDay[time.Weekday(row.DayOfWeek)] = append(byDay[time.Weekday(row.DayOfWeek)], w)
	}
	excs, err := s.repos.Exceptions.ListOverlapping(ctx, nil, coachID, start, end.AddDate(0, 0, -1))
	if err != nil {
		return availability.WeeklyCapacity{}, err
	}
	booked, err := s.repos.Sessions.CountScheduledInRange(ctx, coachID, start, end)
	if err != nil {
		return availability.WeeklyCapacity{}, err
	}
	return availability.Capacity(start, loc, byDay, toRanges(excs), time.Duration(durationMinutes)*time.Minute, booked), nil
}

func toWindows(rows []model.Availability) ([]availability.Window, error) {
	out := make([]availability.Window, 0, len(rows))
	for _, row := range rows {
		w, err := availability.ParseWindow(row.StartTime, row.EndTime)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func toRanges(excs []model.Exception) []availability.DateRange {
	out := make([]availability.DateRange, 0, len(excs))
	for _, e := range excs {
		out = append(out, availability.DateRange{Start: e.StartDate, End: e.EndDate})
	}
	return out
}

func toIntervals(sessions []model.Session) []availability.Interval {
	out := make([]availability.Interval, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, availability.SessionInterval(sess.ScheduledDate, sess.Duration()))
	}
	return out
}
