// Package inbox deduplicates consumed Kafka events by event id.
package inbox

import (
	"context"

	"github.com/purposefullive/coaching-platform/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record returns false when the event was already recorded.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}
	if db.HasCode(err, db.CodeUniqueViolation) {
		return false, nil
	}
	return false, err
}
