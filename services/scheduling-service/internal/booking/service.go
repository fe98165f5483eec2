// Package booking is the scheduling application layer: the slot generator
// and conflict checker over stored data, session lifecycle and the coach's
// calendar configuration. Every check-then-write on one coach's sessions
// runs in a transaction holding that coach's advisory lock, and the
// sessions_no_overlap exclusion constraint backs it up.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/apperr"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/outbox"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/availability"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/files"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/payments"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/slotcache"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/storage"
)

// ErrSlotUnavailable is returned whenever a session would overlap another
// scheduled session of the same coach.
var ErrSlotUnavailable = apperr.New(apperr.BadRequest, "this time slot is no longer available")

type Config struct {
	Slots              availability.Config
	ReminderOffsets    []time.Duration
	MaxDurationMinutes int
	// CoachListHorizon is the default range of ListCoachSessions.
	CoachListHorizon time.Duration
}

type Repositories struct {
	Availability   *storage.AvailabilityRepository
	Exceptions     *storage.ExceptionRepository
	Sessions       *storage.SessionRepository
	SessionTypes   *storage.SessionTypeRepository
	Files          *storage.FileRepository
	ProviderEvents *storage.ProviderEventRepository
	Outbox         *outbox.Repository
}

type Service struct {
	pool   *db.Pool
	repos  Repositories
	cache  *slotcache.Cache
	store  *files.LocalStore
	pay    Checkouter
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

// Checkouter opens a payment checkout; *payments.Checkout implements it.
type Checkouter interface {
	Create(ctx context.Context, item payments.LineItem, b payments.Booking, idempotencyKey string) (payments.Session, error)
}

// Deps are the optional collaborators of Service. A nil Cache disables slot
// caching and a nil Store disables uploads.
type Deps struct {
	Cache    *slotcache.Cache
	Store    *files.LocalStore
	Checkout Checkouter
}

func NewService(pool *db.Pool, repos Repositories, deps Deps, logger *slog.Logger, cfg Config) *Service {
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = 8 * 60
	}
	if cfg.CoachListHorizon <= 0 {
		cfg.CoachListHorizon = 30 * 24 * time.Hour
	}
	if cfg.Slots.Location == nil {
		cfg.Slots.Location = time.UTC
	}
	return &Service{
		pool:   pool,
		repos:  repos,
		cache:  deps.Cache,
		store:  deps.Store,
		pay:    deps.Checkout,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Location is the zone recurring windows and calendar dates are read in.
func (s *Service) Location() *time.Location {
	return s.cfg.Slots.Location
}

func (s *Service) validateDuration(minutes int) error {
	if minutes <= 0 || minutes > s.cfg.MaxDurationMinutes {
		return apperr.Newf(apperr.BadRequest, "duration must be between 1 and %d minutes", s.cfg.MaxDurationMinutes)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, coachID string) {
	if err := s.cache.Invalidate(ctx, coachID); err != nil {
		s.logger.Warn("slot cache invalidation failed", "coach_id", coachID, "err", err)
	}
}

func (s *Service) insertEvent(ctx context.Context, tx pgx.Tx, aggregateID, eventType string, payload any) error {
	evt, err := outbox.NewEvent("session", aggregateID, eventType, payload)
	if err != nil {
		return err
	}
	return s.repos.Outbox.Insert(ctx, tx, evt)
}

// withSavepoint runs fn in a nested transaction so a constraint violation
// does not abort the caller's transaction.
func withSavepoint(ctx context.Context, tx pgx.Tx, fn func(pgx.Tx) error) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(sp); err != nil {
		_ = sp.Rollback(ctx)
		if storage.IsConflict(err) {
			return ErrSlotUnavailable
		}
		return err
	}
	return sp.Commit(ctx)
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.NotFound, what+" not found")
	}
	return err
}
