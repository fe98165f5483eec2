package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
)

type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	Name           string     `json:"name"`
	PasswordHash   string     `json:"-"`
	Role           string     `json:"role"`
	CoachID        string     `json:"coach_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastSignedInAt *time.Time `json:"last_signed_in_at,omitempty"`
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id::text, email, name, password_hash, role, coach_id, created_at, last_signed_in_at`

func scanUser(row pgx.CollectableRow) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CoachID, &u.CreatedAt, &u.LastSignedInAt)
	return u, err
}

func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user *User) error {
	return tx.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash, role, coach_id, last_signed_in_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at, last_signed_in_at
	`, user.ID, user.Email, user.Name, user.PasswordHash, user.Role, user.CoachID,
	).Scan(&user.CreatedAt, &user.LastSignedInAt)
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanUser)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id::text = $1`, id)
	if err != nil {
		return User{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanUser)
}

// CoachExists reports whether id names a registered coach.
func (r *UserRepository) CoachExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id::text = $1 AND role = 'coach')
	`, id).Scan(&ok)
	return ok, err
}

func (r *UserRepository) TouchSignedIn(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_signed_in_at = now() WHERE id::text = $1`, id)
	return err
}

func IsNotFound(err error) bool {
	return db.IsNoRows(err)
}
