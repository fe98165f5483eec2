package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Querier is satisfied by both the pool and a transaction so reads can run
// either standalone or inside the booking transaction.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IsConflict reports an exclusion violation on sessions_no_overlap.
func IsConflict(err error) bool {
	return db.HasCode(err, db.CodeExclusionViolation)
}

func notFound(err error) error {
	if db.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}
