package reconcile

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/purposefullive/coaching-platform/libs/db"
)

// AdvisoryLock is a Locker backed by a postgres session advisory lock. The
// lock lives on one pooled connection, held until Unlock.
type AdvisoryLock struct {
	pool *db.Pool

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewAdvisoryLock(pool *db.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool}
}

func (l *AdvisoryLock) TryLock(ctx context.Context, key int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return false, err
	}
	if !locked {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Unlock(ctx context.Context, key int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key)
	l.conn.Release()
	l.conn = nil
	return err
}
