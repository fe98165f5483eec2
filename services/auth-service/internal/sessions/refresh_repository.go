// Package sessions stores refresh tokens. Only the SHA-256 of a token is
// persisted; the raw value is returned to the client once.
package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/purposefullive/coaching-platform/libs/db"
)

// Execer is satisfied by the pool and by a transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type RefreshToken struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Usable reports whether the token may still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type RefreshRepository struct {
	pool *db.Pool
}

func NewRefreshRepository(pool *db.Pool) *RefreshRepository {
	return &RefreshRepository{pool: pool}
}

// Create issues a new token for userID and returns its raw value.
func (r *RefreshRepository) Create(ctx context.Context, q Execer, userID string, ttl time.Duration) (string, error) {
	raw, err := NewToken()
	if err != nil {
		return "", err
	}
	if q == nil {
		q = r.pool
	}
	_, err = q.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), userID, HashToken(raw), time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (r *RefreshRepository) GetByRaw(ctx context.Context, raw string) (RefreshToken, error) {
	var t RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, HashToken(raw)).Scan(&t.ID, &t.UserID, &t.ExpiresAt, &t.RevokedAt)
	return t, err
}

// Revoke marks the token revoked and reports whether this call did it.
// A false result means another request already consumed the token.
func (r *RefreshRepository) Revoke(ctx context.Context, q Execer, id string) (bool, error) {
	if q == nil {
		q = r.pool
	}
	tag, err := q.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE id::text = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshRepository) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id::text = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired drops tokens that expired before cutoff.
func (r *RefreshRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func IsNotFound(err error) bool {
	return db.IsNoRows(err)
}

func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
