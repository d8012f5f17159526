package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TryAdvisoryLock attempts a session-level advisory lock on the given
// connection. Session-level locks are tied to the connection, not the
// transaction, so callers must keep conn checked out for as long as the
// lock must be held (leader election, migrations).
func TryAdvisoryLock(ctx context.Context, conn *pgxpool.Conn, key int64) (bool, error) {
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return ok, nil
}

// AdvisoryUnlock releases a session-level advisory lock previously taken
// on conn.
func AdvisoryUnlock(ctx context.Context, conn *pgxpool.Conn, key int64) error {
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// AcquireLockedConn checks out a dedicated connection from the pool and
// attempts the advisory lock on it. On failure to acquire the lock the
// connection is released back to the pool.
func AcquireLockedConn(ctx context.Context, pool *pgxpool.Pool, key int64) (*pgxpool.Conn, bool, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	ok, err := TryAdvisoryLock(ctx, conn, key)
	if err != nil {
		conn.Release()
		return nil, false, err
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return conn, true, nil
}
