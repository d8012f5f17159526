package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type LeaderRepo struct {
	pool *pgxpool.Pool
}

func NewLeaderRepo(pool *pgxpool.Pool) *LeaderRepo {
	return &LeaderRepo{pool: pool}
}

var _ repository.LeaderRepository = (*LeaderRepo)(nil)

// AdvisoryLockKey derives the stable 63-bit advisory lock identifier for a
// leader role (§4.2). FNV-1a keeps this deterministic across processes
// without a lookup table.
func AdvisoryLockKey(role domain.Role) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("forge:leader:" + string(role)))
	return int64(h.Sum64() &^ (1 << 63))
}

func (r *LeaderRepo) WriteLease(ctx context.Context, lease *domain.LeaderLease) error {
	const q = `
		INSERT INTO forge_leaders (role, holder_node, acquired_at, lease_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role) DO UPDATE SET
			holder_node = EXCLUDED.holder_node,
			acquired_at = EXCLUDED.acquired_at,
			lease_until = EXCLUDED.lease_until
	`
	_, err := r.pool.Exec(ctx, q, string(lease.Role), lease.HolderNode, lease.AcquiredAt, lease.LeaseUntil)
	if err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	return nil
}

// ExtendLease renews the lease row only if it is still held by holderNode;
// a zero-row result means the caller's lease is gone and it must abandon
// the role immediately.
func (r *LeaderRepo) ExtendLease(ctx context.Context, role domain.Role, holderNode string, newUntil time.Time) (bool, error) {
	const q = `
		UPDATE forge_leaders SET lease_until = $3
		WHERE role = $1 AND holder_node = $2
	`
	tag, err := r.pool.Exec(ctx, q, string(role), holderNode, newUntil)
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LeaderRepo) ExpireLease(ctx context.Context, role domain.Role, holderNode string) error {
	const q = `
		UPDATE forge_leaders SET lease_until = now()
		WHERE role = $1 AND holder_node = $2
	`
	_, err := r.pool.Exec(ctx, q, string(role), holderNode)
	if err != nil {
		return fmt.Errorf("expire lease: %w", err)
	}
	return nil
}

func (r *LeaderRepo) Get(ctx context.Context, role domain.Role) (*domain.LeaderLease, error) {
	const q = `SELECT role, holder_node, acquired_at, lease_until FROM forge_leaders WHERE role = $1`
	row := r.pool.QueryRow(ctx, q, string(role))
	var lease domain.LeaderLease
	var roleStr string
	err := row.Scan(&roleStr, &lease.HolderNode, &lease.AcquiredAt, &lease.LeaseUntil)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrLeaseNotHeld
		}
		return nil, fmt.Errorf("get lease: %w", err)
	}
	lease.Role = domain.Role(roleStr)
	return &lease, nil
}
