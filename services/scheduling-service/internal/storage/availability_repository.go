package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

const availabilityColumns = `id::text, coach_id, day_of_week, start_time, end_time, is_active, created_at, updated_at`

func scanAvailability(row pgx.CollectableRow) (model.Availability, error) {
	var a model.Availability
	err := row.Scan(&a.ID, &a.CoachID, &a.DayOfWeek, &a.StartTime, &a.EndTime, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// List returns the coach's rows in stored order (day, then start time).
// dayOfWeek < 0 means every day.
func (r *AvailabilityRepository) List(ctx context.Context, coachID string, dayOfWeek int, activeOnly bool) ([]model.Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM coach_availability
		WHERE coach_id = $1
			AND ($2 < 0 OR day_of_week = $2)
			AND (NOT $3 OR is_active)
		ORDER BY day_of_week, start_time
	`, coachID, dayOfWeek, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAvailability)
}

// Upsert creates the window or updates the end time of the window that
// starts at the same time on the same day.
func (r *AvailabilityRepository) Upsert(ctx context.Context, a model.Availability) (model.Availability, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO coach_availability (id, coach_id, day_of_week, start_time, end_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (coach_id, day_of_week, start_time)
		DO UPDATE SET end_time = EXCLUDED.end_time, is_active = EXCLUDED.is_active, updated_at = now()
		RETURNING `+availabilityColumns,
		uuid.NewString(), a.CoachID, a.DayOfWeek, a.StartTime, a.EndTime, a.Active)
	if err != nil {
		return model.Availability{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanAvailability)
}

func (r *AvailabilityRepository) Get(ctx context.Context, id string) (model.Availability, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+availabilityColumns+` FROM coach_availability WHERE id = $1`, id)
	if err != nil {
		return model.Availability{}, err
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAvailability)
	return a, notFound(err)
}

func (r *AvailabilityRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE coach_availability SET is_active = $2, updated_at = now() WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AvailabilityRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM coach_availability WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedDefault inserts windows unless the coach already has a Monday row,
// in which case it returns ErrDuplicate and changes nothing.
func (r *AvailabilityRepository) SeedDefault(ctx context.Context, coachID string, windows []model.Availability) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		// Serialise concurrent seeds for the same coach.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('availability:' || $1, 0))`, coachID); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM coach_availability WHERE coach_id = $1 AND day_of_week = 1)
		`, coachID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}
		for _, w := range windows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO coach_availability (id, coach_id, day_of_week, start_time, end_time, is_active)
				VALUES ($1, $2, $3, $4, $5, true)
			`, uuid.NewString(), coachID, w.DayOfWeek, w.StartTime, w.EndTime); err != nil {
				return fmt.Errorf("seed day %d: %w", w.DayOfWeek, err)
			}
		}
		return nil
	})
}
