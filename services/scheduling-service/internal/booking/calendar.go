package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/storage"
)

// DefaultWeek is the Monday to Friday 09:00-17:00 schedule seeded for new coaches.
func DefaultWeek() []model.Availability {
	week := make([]model.Availability, 0, 5)
	for d := time.Monday; d <= time.Friday; d++ {
		week = append(week, model.Availability{DayOfWeek: int(d), StartTime: "09:00", EndTime: "17:00", Active: true})
	}
	return week
}

// ListAvailability is public; dayOfWeek < 0 lists the whole week.
func (s *Service) ListAvailability(ctx context.Context, coachID string, dayOfWeek int) ([]model.Availability, error) {
	if coachID == "" {
		return nil, apperr.New(apperr.BadRequest, "coach_id is required")
	}
	if dayOfWeek > 6 {
		return nil, apperr.New(apperr.BadRequest, "day_of_week must be between 0 and 6")
	}
	id, _ := auth.IdentityFromContext(ctx)
	return s.repos.Availability.List(ctx, coachID, dayOfWeek, !id.CanManageCoach(coachID))
}

func (s *Service) SetAvailability(ctx context.Context, a model.Availability) (model.Availability, error) {
	if _, err := auth.RequireCoachAccess(ctx, a.CoachID); err != nil {
		return model.Availability{}, err
	}
	if a.DayOfWeek < 0 || a.DayOfWeek > 6 {
		return model.Availability{}, apperr.New(apperr.BadRequest, "day_of_week must be between 0 and 6")
	}
	if _, err := availability.ParseWindow(a.StartTime, a.EndTime); err != nil {
		return model.Availability{}, apperr.Wrap(apperr.BadRequest, err.Error(), err)
	}
	out, err := s.repos.Availability.Upsert(ctx, a)
	if err != nil {
		return model.Availability{}, err
	}
	s.invalidate(ctx, a.CoachID)
	return out, nil
}

func (s *Service) loadAvailability(ctx context.Context, id string) (model.Availability, error) {
	a, err := s.repos.Availability.Get(ctx, id)
	if err != nil {
		return model.Availability{}, notFound(err, "availability")
	}
	if _, err := auth.RequireCoachAccess(ctx, a.CoachID); err != nil {
		return model.Availability{}, err
	}
	return a, nil
}

func (s *Service) SetAvailabilityActive(ctx context.Context, id string, active bool) error {
	a, err := s.loadAvailability(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repos.Availability.SetActive(ctx, id, active); err != nil {
		return notFound(err, "availability")
	}
	s.invalidate(ctx, a.CoachID)
	return nil
}

func (s *Service) DeleteAvailability(ctx context.Context, id string) error {
	a, err := s.loadAvailability(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repos.Availability.Delete(ctx, id); err != nil {
		return notFound(err, "availability")
	}
	s.invalidate(ctx, a.CoachID)
	return nil
}

// SeedDefaultAvailability installs DefaultWeek once per coach.
func (s *Service) SeedDefaultAvailability(ctx context.Context, coachID string) error {
	if _, err := auth.RequireCoachAccess(ctx, coachID); err != nil {
		return err
	}
	err := s.repos.Availability.SeedDefault(ctx, coachID, DefaultWeek())
	if errors.Is(err, storage.ErrDuplicate) {
		return apperr.New(apperr.BadRequest, "availability already configured")
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, coachID)
	return nil
}

// CreateException blocks whole calendar days. Sessions already booked on
// those days are left alone.
func (s *Service) CreateException(ctx context.Context, e model.Exception) (model.Exception, error) {
	if _, err := auth.RequireCoachAccess(ctx, e.CoachID); err != nil {
		return model.Exception{}, err
	}
	if e.StartDate.IsZero() || e.EndDate.IsZero() {
		return model.Exception{}, apperr.New(apperr.BadRequest, "start_date and end_date are required")
	}
	if !(availability.DateRange{Start: e.StartDate, End: e.EndDate}).Valid() {
		return model.Exception{}, apperr.New(apperr.BadRequest, "end_date must not be before start_date")
	}
	e.Reason = strings.TrimSpace(e.Reason)
	out, err := s.repos.Exceptions.Create(ctx, e)
	if err != nil {
		return model.Exception{}, err
	}
	s.invalidate(ctx, e.CoachID)
	return out, nil
}

func (s *Service) ListExceptions(ctx context.Context, coachID string, from, to time.Time) ([]model.Exception, error) {
	if _, err := auth.RequireCoachAccess(ctx, coachID); err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = availability.DayStart(s.now(), s.Location())
	}
	if to.IsZero() {
		to = from.AddDate(1, 0, 0)
	}
	return s.repos.Exceptions.ListOverlapping(ctx, nil, coachID, from, to)
}

func (s *Service) DeleteException(ctx context.Context, id string) error {
	e, err := s.repos.Exceptions.Get(ctx, id)
	if err != nil {
		return notFound(err, "exception")
	}
	if _, err := auth.RequireCoachAccess(ctx, e.CoachID); err != nil {
		return err
	}
	if err := s.repos.Exceptions.Delete(ctx, id); err != nil {
		return notFound(err, "exception")
	}
	s.invalidate(ctx, e.CoachID)
	return nil
}

// ListSessionTypes shows inactive types only to the coach.
func (s *Service) ListSessionTypes(ctx context.Context, coachID string) ([]model.SessionType, error) {
	if coachID == "" {
		return nil, apperr.New(apperr.BadRequest, "coach_id is required")
	}
	id, _ := auth.IdentityFromContext(ctx)
	return s.repos.SessionTypes.List(ctx, coachID, !id.CanManageCoach(coachID))
}

func (s *Service) GetSessionType(ctx context.Context, id string) (model.SessionType, error) {
	st, err := s.repos.SessionTypes.Get(ctx, id)
	if err != nil {
		return model.SessionType{}, notFound(err, "session type")
	}
	return st, nil
}

func (s *Service) CreateSessionType(ctx context.Context, st model.SessionType) (model.SessionType, error) {
	if _, err := auth.RequireCoachAccess(ctx, st.CoachID); err != nil {
		return model.SessionType{}, err
	}
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return model.SessionType{}, apperr.New(apperr.BadRequest, "name is required")
	}
	if err := s.validateDuration(st.DurationMinutes); err != nil {
		return model.SessionType{}, err
	}
	if st.PriceCents < 0 {
		return model.SessionType{}, apperr.New(apperr.BadRequest, "price must not be negative")
	}
	st.Active = true
	return s.repos.SessionTypes.Create(ctx, st)
}

func (s *Service) SetSessionTypeActive(ctx context.Context, id string, active bool) error {
	st, err := s.GetSessionType(ctx, id)
	if err != nil {
		return err
	}
	if _, err := auth.RequireCoachAccess(ctx, st.CoachID); err != nil {
		return err
	}
	return notFound(s.repos.SessionTypes.SetActive(ctx, id, active), "session type")
}
