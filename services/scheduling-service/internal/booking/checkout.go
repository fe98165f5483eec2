package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/auth"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/payments"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
)

type CheckoutInput struct {
	CoachID        string
	ClientID       string
	SessionTypeID  string
	Start          time.Time
	ClientEmail    string
	ClientPhone    string
	Notes          string
	IdempotencyKey string
}

// CreateCheckout pre-checks the slot and opens a Stripe checkout for a paid
// session type. Nothing is booked until the payment completes.
func (s *Service) CreateCheckout(ctx context.Context, in CheckoutInput) (payments.Session, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return payments.Session{}, err
	}
	manage := id.CanManageCoach(in.CoachID)
	switch {
	case manage:
		if in.ClientID == "" {
			return payments.Session{}, apperr.New(apperr.BadRequest, "client_id is required")
		}
	case id.Role == auth.RoleClient:
		in.ClientID = id.UserID
	default:
		return payments.Session{}, apperr.New(apperr.Forbidden, "not allowed to book for this coach")
	}
	if in.SessionTypeID == "" {
		return payments.Session{}, apperr.New(apperr.BadRequest, "session_type_id is required")
	}
	st, err := s.GetSessionType(ctx, in.SessionTypeID)
	if err != nil {
		return payments.Session{}, err
	}
	if st.CoachID != in.CoachID || !st.Active {
		return payments.Session{}, apperr.New(apperr.BadRequest, "session type is not available for this coach")
	}
	if !st.IsPaid() {
		return payments.Session{}, apperr.New(apperr.BadRequest, "session type is free; book it directly")
	}
	if err := s.checkBookable(ctx, s.pool, in.CoachID, in.Start, time.Duration(st.DurationMinutes)*time.Minute, "", !manage); err != nil {
		return payments.Session{}, err
	}
	if s.pay == nil {
		return payments.Session{}, apperr.New(apperr.Internal, "payments are not configured")
	}

	sess, err := s.pay.Create(ctx, payments.LineItem{
		Name:        st.Name,
		PriceID:     st.StripePriceID,
		AmountCents: st.PriceCents,
	}, payments.Booking{
		CoachID:         in.CoachID,
		ClientID:        in.ClientID,
		SessionTypeID:   st.ID,
		ScheduledDate:   in.Start,
		DurationMinutes: st.DurationMinutes,
		ClientEmail:     in.ClientEmail,
		ClientPhone:     in.ClientPhone,
		Notes:           in.Notes,
	}, in.IdempotencyKey)
	if errors.Is(err, payments.ErrNotConfigured) {
		return payments.Session{}, apperr.New(apperr.Internal, "payments are not configured")
	}
	if err != nil {
		s.logger.Error("stripe checkout session create failed", "coach_id", in.CoachID, "err", err)
		return payments.Session{}, apperr.Wrap(apperr.Internal, "failed to create checkout session", err)
	}
	s.logger.Info("checkout created", "checkout_id", sess.ID, "coach_id", in.CoachID, "client_id", in.ClientID)
	return sess, nil
}

// Webhook outcomes.
const (
	WebhookProcessed      = "ok"
	WebhookDuplicate      = "duplicate"
	WebhookIgnored        = "ignored"
	WebhookRefundRequired = "refund_required"
)

// HandleStripeEvent applies a verified Stripe event. The provider event row
// and the resulting booking commit together, so a replay is a no-op.
func (s *Service) HandleStripeEvent(ctx context.Context, evt stripe.Event, raw []byte) (string, error) {
	outcome := WebhookIgnored
	var booked *model.Session
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := s.repos.ProviderEvents.Insert(ctx, tx, storage.ProviderEvent{
			Provider:        "stripe",
			ProviderEventID: evt.ID,
			EventType:       string(evt.Type),
			Payload:         raw,
		})
		if errors.Is(err, storage.ErrDuplicate) {
			outcome = WebhookDuplicate
			return nil
		}
		if err != nil {
			return err
		}
		if evt.Type != "checkout.session.completed" {
			return nil
		}

		var cs stripe.CheckoutSession
		if evt.Data == nil {
			return nil
		}
		if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
			s.logger.Error("stripe: invalid checkout session payload", "provider_event_id", evt.ID, "err", err)
			return nil
		}
		if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.logger.Info("stripe: checkout completed without payment", "checkout_id", cs.ID, "payment_status", cs.PaymentStatus)
			return nil
		}
		b, err := payments.BookingFromMetadata(cs.Metadata)
		if err != nil {
			s.logger.Warn("stripe: checkout metadata unusable", "checkout_id", cs.ID, "err", err)
			return nil
		}
		if _, found, err := s.SessionByCheckout(ctx, tx, cs.ID); err != nil {
			return err
		} else if found {
			outcome = WebhookDuplicate
			return nil
		}

		sess, _, err := s.BookInTx(ctx, tx, BookInput{
			CoachID:                  b.CoachID,
			ClientID:                 b.ClientID,
			SessionTypeID:            b.SessionTypeID,
			Start:                    b.ScheduledDate,
			DurationMinutes:          b.DurationMinutes,
			Notes:                    b.Notes,
			ClientEmail:              b.ClientEmail,
			ClientPhone:              b.ClientPhone,
			IdempotencyKey:           "stripe:" + cs.ID,
			PaymentStatus:            model.PaymentPaid,
			PriceCents:               cs.AmountTotal,
			StripeSessionID:          cs.ID,
			AllowOutsideAvailability: true,
		})
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Code == apperr.BadRequest {
			// The slot was taken while the client paid.
			s.logger.Error("paid checkout could not be booked; manual refund required",
				"checkout_id", cs.ID,
				"coach_id", b.CoachID,
				"client_id", b.ClientID,
				"scheduled_date", b.ScheduledDate,
				"reason", appErr.Message,
			)
			outcome = WebhookRefundRequired
			return nil
		}
		if err != nil {
			return fmt.Errorf("book paid checkout %s: %w", cs.ID, err)
		}
		booked = &sess
		outcome = WebhookProcessed
		return nil
	})
	if err != nil {
		return "", err
	}
	if booked != nil {
		s.invalidate(ctx, booked.CoachID)
		s.logger.Info("paid session booked", "session_id", booked.ID, "checkout_id", booked.StripeSessionID)
	}
	return outcome, nil
}
