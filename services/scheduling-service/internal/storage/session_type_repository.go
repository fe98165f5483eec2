package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type SessionTypeRepository struct {
	pool *db.Pool
}

func NewSessionTypeRepository(pool *db.Pool) *SessionTypeRepository {
	return &SessionTypeRepository{pool: pool}
}

const sessionTypeColumns = `id::text, coach_id, name, description, duration_minutes, price_cents,
	stripe_price_id, is_active, display_order, created_at`

func scanSessionType(row pgx.CollectableRow) (model.SessionType, error) {
	var t model.SessionType
	err := row.Scan(&t.ID, &t.CoachID, &t.Name, &t.Description, &t.DurationMinutes, &t.PriceCents,
		&t.StripePriceID, &t.Active, &t.DisplayOrder, &t.CreatedAt)
	return t, err
}

func (r *SessionTypeRepository) Create(ctx context.Context, t model.SessionType) (model.SessionType, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO session_types (id, coach_id, name, description, duration_minutes, price_cents, stripe_price_id, is_active, display_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
		RETURNING `+sessionTypeColumns,
		uuid.NewString(), t.CoachID, t.Name, t.Description, t.DurationMinutes, t.PriceCents, t.StripePriceID, t.DisplayOrder)
	if err != nil {
		return model.SessionType{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanSessionType)
}

func (r *SessionTypeRepository) List(ctx context.Context, coachID string, activeOnly bool) ([]model.SessionType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionTypeColumns+`
		FROM session_types
		WHERE coach_id = $1 AND (NOT $2 OR is_active)
		ORDER BY display_order, name
	`, coachID, activeOnly)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSessionType)
}

func (r *SessionTypeRepository) Get(ctx context.Context, id string) (model.SessionType, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionTypeColumns+` FROM session_types WHERE id::text = $1`, id)
	if err != nil {
		return model.SessionType{}, err
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanSessionType)
	return t, notFound(err)
}

func (r *SessionTypeRepository) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE session_types SET is_active = $2 WHERE id::text = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
