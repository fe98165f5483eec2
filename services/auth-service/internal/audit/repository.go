// Package audit records security relevant account events: registrations,
// sign-ins, refresh token reuse, key rotation.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/auth-service/internal/sessions"
)

const (
	EventRegistered   = "user.registered"
	EventLogin        = "user.login"
	EventLoginFailed  = "user.login_failed"
	EventRefreshReuse = "refresh_token.reuse"
	EventKeyRotated   = "jwt.rotate"
)

type Event struct {
	ID        int64           `json:"id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record writes one audit row through q, or the pool when q is nil.
func (r *Repository) Record(ctx context.Context, q sessions.Execer, eventType, actorID string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if q == nil {
		q = r.pool
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_events (event_type, actor_id, metadata)
		VALUES ($1, $2, $3)
	`, eventType, actorID, raw)
	return err
}

func (r *Repository) ListRecent(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_type, actor_id, metadata, created_at
		FROM audit_events
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY id DESC
		LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var e Event
		err := row.Scan(&e.ID, &e.EventType, &e.ActorID, &e.Metadata, &e.CreatedAt)
		return e, err
	})
}
