// Package leader implements per-role election on top of a PostgreSQL
// advisory lock (§4.2), grounded on the transactional begin/exec/commit
// shape the job scheduler this runtime descends from uses for its
// schedule-claim transaction, applied here to pg_try_advisory_lock /
// pg_advisory_unlock instead of row locks.
package leader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/infrastructure/postgres"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

// Elector holds (or attempts to hold) the lease for a single role on
// behalf of this node.
type Elector struct {
	pool     *pgxpool.Pool
	leases   repository.LeaderRepository
	role     domain.Role
	nodeID   string
	leaseDur time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	held    bool
	conn    *pgxpool.Conn
	lockKey int64
}

// NewElector builds an elector for role, attempting acquisition on
// Run and renewing every leaseDur/3 until ctx is cancelled.
func NewElector(pool *pgxpool.Pool, leases repository.LeaderRepository, role domain.Role, nodeID string, leaseDur time.Duration, logger *slog.Logger) *Elector {
	return &Elector{
		pool:     pool,
		leases:   leases,
		role:     role,
		nodeID:   nodeID,
		leaseDur: leaseDur,
		logger:   logger,
		lockKey:  postgres.AdvisoryLockKey(role),
	}
}

// IsHeld reports whether this node currently believes it holds the role.
func (e *Elector) IsHeld() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.held
}

// Run attempts acquisition, then renews on a ticker until ctx is done. It
// blocks for the lifetime of ctx; callers should run it in a goroutine.
func (e *Elector) Run(ctx context.Context) {
	ticker := time.NewTicker(e.leaseDur / 3)
	defer ticker.Stop()

	for {
		if !e.IsHeld() {
			e.tryAcquire(ctx)
		} else {
			e.renew(ctx)
		}

		select {
		case <-ctx.Done():
			e.release(context.Background())
			return
		case <-ticker.C:
		}
	}
}

func (e *Elector) tryAcquire(ctx context.Context) {
	conn, ok, err := postgres.AcquireLockedConn(ctx, e.pool, e.lockKey)
	if err != nil {
		e.logger.Warn("leader: acquire attempt failed", "role", e.role, "error", err)
		return
	}
	if !ok {
		return
	}

	now := time.Now()
	lease := &domain.LeaderLease{
		Role:       e.role,
		HolderNode: e.nodeID,
		AcquiredAt: now,
		LeaseUntil: now.Add(e.leaseDur),
	}
	if err := e.leases.WriteLease(ctx, lease); err != nil {
		e.logger.Warn("leader: write lease failed", "role", e.role, "error", err)
		conn.Release()
		return
	}

	e.mu.Lock()
	e.conn = conn
	e.held = true
	e.mu.Unlock()

	metrics.LeaderHeld.WithLabelValues(string(e.role)).Set(1)
	metrics.LeaderAcquisitionsTotal.WithLabelValues(string(e.role)).Inc()
	e.logger.Info("leader: acquired", "role", e.role)
}

// renew extends lease_until; on zero rows affected, the holder's session
// has died (or been usurped) and the role is abandoned immediately.
func (e *Elector) renew(ctx context.Context) {
	ok, err := e.leases.ExtendLease(ctx, e.role, e.nodeID, time.Now().Add(e.leaseDur))
	if err != nil {
		e.logger.Warn("leader: renew failed", "role", e.role, "error", err)
		return
	}
	if !ok {
		e.logger.Warn("leader: lost lease on renewal", "role", e.role)
		e.release(ctx)
	}
}

func (e *Elector) release(ctx context.Context) {
	e.mu.Lock()
	conn := e.conn
	wasHeld := e.held
	e.conn = nil
	e.held = false
	e.mu.Unlock()

	if !wasHeld || conn == nil {
		return
	}

	if err := e.leases.ExpireLease(ctx, e.role, e.nodeID); err != nil {
		e.logger.Warn("leader: expire lease row failed", "role", e.role, "error", err)
	}
	if err := postgres.AdvisoryUnlock(ctx, conn, e.lockKey); err != nil {
		e.logger.Warn("leader: advisory unlock failed", "role", e.role, "error", err)
	}
	conn.Release()

	metrics.LeaderHeld.WithLabelValues(string(e.role)).Set(0)
	e.logger.Info("leader: released", "role", e.role)
}
