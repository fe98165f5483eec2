package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type ExceptionRepository struct {
	pool *db.Pool
}

func NewExceptionRepository(pool *db.Pool) *ExceptionRepository {
	return &ExceptionRepository{pool: pool}
}

const exceptionColumns = `id::text, coach_id, start_date, end_date, reason, created_at`

func scanException(row pgx.CollectableRow) (model.Exception, error) {
	var e model.Exception
	err := row.Scan(&e.ID, &e.CoachID, &e.StartDate, &e.EndDate, &e.Reason, &e.CreatedAt)
	return e, err
}

func (r *ExceptionRepository) Create(ctx context.Context, e model.Exception) (model.Exception, error) {
	rows, err := r.pool.Query(ctx, `
		INSERT INTO availability_exceptions (id, coach_id, start_date, end_date, reason)
		VALUES ($1, $2, $3::date, $4::date, $5)
		RETURNING `+exceptionColumns,
		uuid.NewString(), e.CoachID, dateString(e.StartDate), dateString(e.EndDate), e.Reason)
	if err != nil {
		return model.Exception{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanException)
}

// ListOverlapping returns exceptions touching any calendar date in [from, to].
func (r *ExceptionRepository) ListOverlapping(ctx context.Context, q Querier, coachID string, from, to time.Time) ([]model.Exception, error) {
	if q == nil {
		q = r.pool
	}
	rows, err := q.Query(ctx, `
		SELECT `+exceptionColumns+`
		FROM availability_exceptions
		WHERE coach_id = $1 AND start_date <= $3::date AND end_date >= $2::date
		ORDER BY start_date
	`, coachID, dateString(from), dateString(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanException)
}

func (r *ExceptionRepository) Get(ctx context.Context, id string) (model.Exception, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+exceptionColumns+` FROM availability_exceptions WHERE id = $1`, id)
	if err != nil {
		return model.Exception{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanException)
	return e, notFound(err)
}

func (r *ExceptionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_exceptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// dateString keeps the caller's calendar date regardless of zone.
func dateString(t time.Time) string {
	return t.Format("2006-01-02")
}
