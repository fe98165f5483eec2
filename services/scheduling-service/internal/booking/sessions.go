package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/storage"
)

// BookInput describes one booking. BookInTx trusts it as given; Book fills
// ClientID and the permission flags from the caller identity.
type BookInput struct {
	CoachID         string
	ClientID        string
	SessionTypeID   string
	Start           time.Time
	DurationMinutes int
	Notes           string
	ClientEmail     string
	ClientPhone     string
	IdempotencyKey  string
	PaymentStatus   string
	PriceCents      int64
	StripeSessionID string
	// AllowOutsideAvailability skips the recurring-window check; coaches may
	// place sessions anywhere on their own calendar.
	AllowOutsideAvailability bool
}

func (in BookInput) validate() error {
	switch {
	case strings.TrimSpace(in.CoachID) == "":
		return apperr.New(apperr.BadRequest, "coach_id is required")
	case strings.TrimSpace(in.ClientID) == "":
		return apperr.New(apperr.BadRequest, "client_id is required")
	case in.Start.IsZero():
		return apperr.New(apperr.BadRequest, "scheduled_date is required")
	}
	return nil
}

// Book creates a scheduled session for the caller. Clients book themselves;
// coaches and admins book on behalf of a client. The second return value is
// true when an idempotency key replayed an earlier booking.
func (s *Service) Book(ctx context.Context, in BookInput) (model.Session, bool, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return model.Session{}, false, err
	}
	manage := id.CanManageCoach(in.CoachID)
	switch {
	case manage:
	case id.Role == auth.RoleClient:
		in.ClientID = id.UserID
	default:
		return model.Session{}, false, apperr.New(apperr.Forbidden, "not allowed to book for this coach")
	}
	in.AllowOutsideAvailability = manage
	in.StripeSessionID = ""
	in.PaymentStatus = model.PaymentNotRequired
	in.PriceCents = 0

	if in.SessionTypeID != "" {
		st, err := s.repos.SessionTypes.Get(ctx, in.SessionTypeID)
		if err != nil {
			return model.Session{}, false, notFound(err, "session type")
		}
		if st.CoachID != in.CoachID || !st.Active {
			return model.Session{}, false, apperr.New(apperr.BadRequest, "session type is not available for this coach")
		}
		if st.IsPaid() {
			if !manage {
				return model.Session{}, false, apperr.New(apperr.BadRequest, "paid session types must be booked through checkout")
			}
			in.PaymentStatus = model.PaymentPending
			in.PriceCents = st.PriceCents
		}
		if in.DurationMinutes == 0 {
			in.DurationMinutes = st.DurationMinutes
		}
	}

	var (
		out      model.Session
		replayed bool
	)
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, replayed, err = s.BookInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return model.Session{}, false, err
	}
	if !replayed {
		s.invalidate(ctx, out.CoachID)
		s.logger.Info("session booked", "session_id", out.ID, "coach_id", out.CoachID, "client_id", out.ClientID)
	}
	return out, replayed, nil
}

// BookInTx runs the locked check-and-insert inside tx. It does not check
// permissions; the Stripe webhook calls it directly with a paid input.
func (s *Service) BookInTx(ctx context.Context, tx pgx.Tx, in BookInput) (model.Session, bool, error) {
	if err := in.validate(); err != nil {
		return model.Session{}, false, err
	}
	if err := s.validateDuration(in.DurationMinutes); err != nil {
		return model.Session{}, false, err
	}
	if err := s.repos.Sessions.LockCoach(ctx, tx, in.CoachID); err != nil {
		return model.Session{}, false, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.repos.Sessions.LockIdempotencyKey(ctx, tx, in.CoachID, in.IdempotencyKey)
		if err != nil {
			return model.Session{}, false, err
		}
		if existing != "" {
			sess, err := s.repos.Sessions.GetForUpdate(ctx, tx, existing)
			return sess, true, err
		}
	}

	dur := time.Duration(in.DurationMinutes) * time.Minute
	if err := s.checkBookable(ctx, tx, in.CoachID, in.Start, dur, "", !in.AllowOutsideAvailability); err != nil {
		return model.Session{}, false, err
	}

	payment := in.PaymentStatus
	if payment == "" {
		payment = model.PaymentNotRequired
	}
	sess := model.Session{
		CoachID:         in.CoachID,
		ClientID:        in.ClientID,
		SessionTypeID:   in.SessionTypeID,
		ScheduledDate:   in.Start.UTC(),
		DurationMinutes: in.DurationMinutes,
		Status:          model.StatusScheduled,
		PaymentStatus:   payment,
		PriceCents:      in.PriceCents,
		StripeSessionID: in.StripeSessionID,
		Notes:           in.Notes,
		ClientEmail:     in.ClientEmail,
		ClientPhone:     in.ClientPhone,
	}
	if err := withSavepoint(ctx, tx, func(sp pgx.Tx) error {
		return s.repos.Sessions.Create(ctx, sp, &sess)
	}); err != nil {
		return model.Session{}, false, err
	}

	if err := s.insertEvent(ctx, tx, sess.ID, events.TopicSessionBooked, events.SessionBooked{
		SessionID:       sess.ID,
		CoachID:         sess.CoachID,
		ClientID:        sess.ClientID,
		SessionTypeID:   sess.SessionTypeID,
		ScheduledDate:   sess.ScheduledDate,
		DurationMinutes: sess.DurationMinutes,
		PaymentStatus:   sess.PaymentStatus,
		ClientEmail:     sess.ClientEmail,
		ClientPhone:     sess.ClientPhone,
	}); err != nil {
		return model.Session{}, false, err
	}
	if err := s.requestReminders(ctx, tx, sess); err != nil {
		return model.Session{}, false, err
	}
	if in.IdempotencyKey != "" {
		if err := s.repos.Sessions.FinalizeIdempotency(ctx, tx, in.CoachID, in.IdempotencyKey, sess.ID); err != nil {
			return model.Session{}, false, err
		}
	}
	return sess, false, nil
}

// checkBookable reads through q. Inside a booking transaction the coach lock
// must already be held; outside one it is only a pre-check.
func (s *Service) checkBookable(ctx context.Context, q storage.Querier, coachID string, start time.Time, dur time.Duration, excludeID string, requireWindow bool) error {
	if !start.After(s.now()) {
		return apperr.New(apperr.BadRequest, "session must start in the future")
	}
	loc := s.Location()
	iv := availability.SessionInterval(start, dur)

	excs, err := s.repos.Exceptions.ListOverlapping(ctx, q, coachID, iv.Start.In(loc), iv.End.Add(-time.Nanosecond).In(loc))
	if err != nil {
		return err
	}
	if len(excs) > 0 {
		return apperr.New(apperr.BadRequest, "coach is unavailable on this date")
	}

	if requireWindow {
		rows, err := s.repos.Availability.List(ctx, coachID, int(iv.Start.In(loc).Weekday()), true)
		if err != nil {
			return err
		}
		windows, err := toWindows(rows)
		if err != nil {
			return err
		}
		if !fitsWindows(iv, windows, loc) {
			return apperr.New(apperr.BadRequest, "requested time is outside the coach's availability")
		}
	}

	booked, err := s.repos.Sessions.ListScheduledOverlapping(ctx, q, coachID, iv.Start, iv.End, excludeID)
	if err != nil {
		return err
	}
	if len(booked) > 0 {
		return ErrSlotUnavailable
	}
	return nil
}

func fitsWindows(iv availability.Interval, windows []availability.Window, loc *time.Location) bool {
	for _, w := range windows {
		ws := availability.At(iv.Start, w.Start, loc)
		we := availability.At(iv.Start, w.End, loc)
		if !iv.Start.Before(ws) && !iv.End.After(we) {
			return true
		}
	}
	return false
}

// reminderRequests lists the reminders for sess that are still in the
// future, one per offset and channel with a recipient.
func reminderRequests(sess model.Session, offsets []time.Duration, now time.Time) []events.ReminderRequested {
	recipients := []struct{ channel, to string }{
		{events.ChannelEmail, sess.ClientEmail},
		{events.ChannelSMS, sess.ClientPhone},
	}
	var out []events.ReminderRequested
	for _, off := range offsets {
		at := sess.ScheduledDate.Add(-off)
		if !at.After(now) {
			continue
		}
		for _, r := range recipients {
			if r.to == "" {
				continue
			}
			out = append(out, events.ReminderRequested{
				SessionID:     sess.ID,
				CoachID:       sess.CoachID,
				Channel:       r.channel,
				Recipient:     r.to,
				RemindAt:      at.UTC(),
				ScheduledDate: sess.ScheduledDate,
				Duration:      sess.DurationMinutes,
			})
		}
	}
	return out
}

func (s *Service) requestReminders(ctx context.Context, tx pgx.Tx, sess model.Session) error {
	for _, req := range reminderRequests(sess, s.cfg.ReminderOffsets, s.now()) {
		if err := s.insertEvent(ctx, tx, sess.ID, events.TopicReminderRequested, req); err != nil {
			return err
		}
	}
	return nil
}

// sessionAccess resolves whether the caller may act on sess: the coach (or
// an admin) manages it, the booked client owns it.
func sessionAccess(id auth.Identity, sess model.Session) (manage bool, err error) {
	if id.CanManageCoach(sess.CoachID) {
		return true, nil
	}
	if id.Role == auth.RoleClient && id.UserID == sess.ClientID {
		return false, nil
	}
	return false, apperr.New(apperr.Forbidden, "not allowed to access this session")
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, notFound(err, "session")
	}
	if _, err := sessionAccess(id, sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Reschedule moves a scheduled session. The session's own interval is
// excluded from the conflict check so it may shift within itself.
func (s *Service) Reschedule(ctx context.Context, sessionID string, start time.Time, durationMinutes int) (model.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return model.Session{}, err
	}
	current, err := s.repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, notFound(err, "session")
	}
	if start.IsZero() {
		return model.Session{}, apperr.New(apperr.BadRequest, "scheduled_date is required")
	}

	var out model.Session
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repos.Sessions.LockCoach(ctx, tx, current.CoachID); err != nil {
			return err
		}
		sess, err := s.repos.Sessions.GetForUpdate(ctx, tx, sessionID)
		if err != nil {
			return notFound(err, "session")
		}
		manage, err := sessionAccess(id, sess)
		if err != nil {
			return err
		}
		if sess.Status != model.StatusScheduled {
			return apperr.New(apperr.BadRequest, "only scheduled sessions can be rescheduled")
		}
		minutes := durationMinutes
		if minutes == 0 {
			minutes = sess.DurationMinutes
		}
		if err := s.validateDuration(minutes); err != nil {
			return err
		}
		dur := time.Duration(minutes) * time.Minute
		if err := s.checkBookable(ctx, tx, sess.CoachID, start, dur, sess.ID, !manage); err != nil {
			return err
		}
		if err := withSavepoint(ctx, tx, func(sp pgx.Tx) error {
			out, err = s.repos.Sessions.Reschedule(ctx, sp, sess.ID, start.UTC(), minutes)
			return err
		}); err != nil {
			return err
		}
		if err := s.insertEvent(ctx, tx, out.ID, events.TopicSessionRescheduled, events.SessionRescheduled{
			SessionID:       out.ID,
			CoachID:         out.CoachID,
			ClientID:        out.ClientID,
			PreviousDate:    sess.ScheduledDate,
			ScheduledDate:   out.ScheduledDate,
			DurationMinutes: out.DurationMinutes,
			ClientEmail:     out.ClientEmail,
			ClientPhone:     out.ClientPhone,
		}); err != nil {
			return err
		}
		return s.requestReminders(ctx, tx, out)
	})
	if err != nil {
		return model.Session{}, err
	}
	s.invalidate(ctx, out.CoachID)
	s.logger.Info("session rescheduled", "session_id", out.ID, "coach_id", out.CoachID, "scheduled_date", out.ScheduledDate)
	return out, nil
}

// Cancel frees the session's interval. Cancelling twice returns the
// already-cancelled session unchanged.
func (s *Service) Cancel(ctx context.Context, sessionID, reason string) (model.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return model.Session{}, err
	}
	var (
		out     model.Session
		changed bool
	)
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		sess, err := s.repos.Sessions.GetForUpdate(ctx, tx, sessionID)
		if err != nil {
			return notFound(err, "session")
		}
		manage, err := sessionAccess(id, sess)
		if err != nil {
			return err
		}
		if sess.Status == model.StatusCancelled {
			out = sess
			return nil
		}
		if sess.Status != model.StatusScheduled {
			return apperr.New(apperr.BadRequest, "only scheduled sessions can be cancelled")
		}
		by := model.CancelledByClient
		if manage {
			by = model.CancelledByCoach
		}
		out, err = s.repos.Sessions.Cancel(ctx, tx, sess.ID, by, strings.TrimSpace(reason))
		if err != nil {
			return err
		}
		changed = true
		cancelledAt := s.now().UTC()
		if out.CancelledAt != nil {
			cancelledAt = *out.CancelledAt
		}
		return s.insertEvent(ctx, tx, out.ID, events.TopicSessionCancelled, events.SessionCancelled{
			SessionID:     out.ID,
			CoachID:       out.CoachID,
			ClientID:      out.ClientID,
			ScheduledDate: out.ScheduledDate,
			CancelledBy:   by,
			Reason:        out.CancelReason,
			CancelledAt:   cancelledAt,
			ClientEmail:   out.ClientEmail,
		})
	})
	if err != nil {
		return model.Session{}, err
	}
	if changed {
		s.invalidate(ctx, out.CoachID)
		s.logger.Info("session cancelled", "session_id", out.ID, "coach_id", out.CoachID, "cancelled_by", out.CancelledBy)
	}
	return out, nil
}

// MarkStatus records the outcome of a scheduled session.
func (s *Service) MarkStatus(ctx context.Context, sessionID, status string) (model.Session, error) {
	if status != model.StatusCompleted && status != model.StatusNoShow {
		return model.Session{}, apperr.New(apperr.BadRequest, "status must be completed or no-show")
	}
	id, err := auth.Require(ctx)
	if err != nil {
		return model.Session{}, err
	}
	var out model.Session
	err = s.pool.InTx(ctx, func(tx pgx.Tx) error {
		sess, err := s.repos.Sessions.GetForUpdate(ctx, tx, sessionID)
		if err != nil {
			return notFound(err, "session")
		}
		if !id.CanManageCoach(sess.CoachID) {
			return apperr.New(apperr.Forbidden, "only the coach can update session status")
		}
		if sess.Status == status {
			out = sess
			return nil
		}
		if sess.Status != model.StatusScheduled {
			return apperr.Newf(apperr.BadRequest, "cannot change a %s session", sess.Status)
		}
		out, err = s.repos.Sessions.SetStatus(ctx, tx, sess.ID, status)
		return err
	})
	if err != nil {
		return model.Session{}, err
	}
	s.invalidate(ctx, out.CoachID)
	return out, nil
}

type CoachSessionQuery struct {
	CoachID  string
	From     time.Time
	To       time.Time
	Statuses []string
	Limit    int
}

// ListCoachSessions defaults to the next CoachListHorizon from now.
func (s *Service) ListCoachSessions(ctx context.Context, q CoachSessionQuery) ([]model.Session, error) {
	if _, err := auth.RequireCoachAccess(ctx, q.CoachID); err != nil {
		return nil, err
	}
	if q.From.IsZero() {
		q.From = s.now()
	}
	if q.To.IsZero() {
		q.To = q.From.Add(s.cfg.CoachListHorizon)
	}
	if !q.To.After(q.From) {
		return nil, apperr.New(apperr.BadRequest, "to must be after from")
	}
	return s.repos.Sessions.ListByCoach(ctx, storage.CoachSessionFilter{
		CoachID:  q.CoachID,
		From:     q.From,
		To:       q.To,
		Statuses: q.Statuses,
		Limit:    q.Limit,
	})
}

// ListClientSessions lists a client's sessions. Clients only see their own;
// coaches see the client's sessions with them.
func (s *Service) ListClientSessions(ctx context.Context, clientID string, upcomingOnly bool, limit int) ([]model.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	coachFilter := ""
	switch {
	case id.IsAdmin():
	case id.Role == auth.RoleClient:
		if clientID != "" && clientID != id.UserID {
			return nil, apperr.New(apperr.Forbidden, "not allowed to view these sessions")
		}
		clientID = id.UserID
	case id.Role == auth.RoleCoach && id.CoachID != "":
		coachFilter = id.CoachID
	default:
		return nil, apperr.New(apperr.Forbidden, "not allowed to view these sessions")
	}
	if clientID == "" {
		return nil, apperr.New(apperr.BadRequest, "client_id is required")
	}
	return s.repos.Sessions.ListByClient(ctx, clientID, coachFilter, upcomingOnly, s.now(), limit)
}

// SessionByCheckout finds the session a Stripe checkout produced.
func (s *Service) SessionByCheckout(ctx context.Context, q storage.Querier, stripeSessionID string) (model.Session, bool, error) {
	sess, err := s.repos.Sessions.GetByStripeSessionID(ctx, q, stripeSessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, err
	}
	return sess, true, nil
}
