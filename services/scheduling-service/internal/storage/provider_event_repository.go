package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
)

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type ProviderEventRepository struct{}

func NewProviderEventRepository() *ProviderEventRepository {
	return &ProviderEventRepository{}
}

// Insert records a webhook delivery; a replay returns ErrDuplicate.
func (r *ProviderEventRepository) Insert(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if db.HasCode(err, db.CodeUniqueViolation) {
		return ErrDuplicate
	}
	return err
}
