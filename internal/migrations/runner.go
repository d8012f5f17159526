// Package migrations implements the built-in schema and the versioned
// runner that applies it (§4.10), grounded on
// original_source/forge-runtime/src/migrations/executor.rs: the same
// checksum-and-duration bookkeeping already persisted by
// postgres.MigrationRepo, wrapped here in the apply-under-advisory-lock
// orchestration the Rust executor also performs before handing off to
// its own table-by-table DDL.
package migrations

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/infrastructure/postgres"
	"github.com/forgehq/forge/internal/repository"
)

// Migration is one unit of schema change: built-in or user-supplied,
// identified by a lexicographically ordered version string.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// Ordered merges Builtin with user-supplied migrations and sorts the
// result lexicographically by version, the order Up applies them in.
func Ordered(userMigrations []Migration) []Migration {
	ordered := append([]Migration{}, Builtin...)
	ordered = append(ordered, userMigrations...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })
	return ordered
}

func checksum(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

func lockKey() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("forge:migrations"))
	return int64(h.Sum64() &^ (1 << 63))
}

// Runner applies built-in and caller-supplied user migrations together in
// lexicographic version order, all under one process-wide advisory lock
// so that only one node in the cluster runs DDL at a time.
type Runner struct {
	pool   *pgxpool.Pool
	repo   repository.MigrationRepository
	logger *slog.Logger
}

func NewRunner(pool *pgxpool.Pool, repo repository.MigrationRepository, logger *slog.Logger) *Runner {
	return &Runner{pool: pool, repo: repo, logger: logger}
}

// Up applies Builtin and userMigrations merged into one list sorted
// lexicographically by version (see Ordered), skipping any version
// already recorded. It takes the migration advisory lock for its entire
// duration.
func (r *Runner) Up(ctx context.Context, userMigrations []Migration) error {
	conn, ok, err := postgres.AcquireLockedConn(ctx, r.pool, lockKey())
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if !ok {
		r.logger.Info("migrations: another node holds the migration lock, skipping")
		return nil
	}
	defer func() {
		_ = postgres.AdvisoryUnlock(ctx, conn, lockKey())
		conn.Release()
	}()

	if err := r.repo.EnsureTable(ctx); err != nil {
		return err
	}

	for _, m := range Ordered(userMigrations) {
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, m Migration) error {
	applied, err := r.repo.IsApplied(ctx, m.Version)
	if err != nil {
		return err
	}
	sum := checksum(m.SQL)
	if applied {
		r.warnOnChecksumMismatch(ctx, m, sum)
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration sql: %w", err)
	}
	duration := time.Since(start)

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}

	if err := r.repo.Record(ctx, &domain.Migration{
		Version: m.Version, Name: m.Name, Checksum: sum, DurationMillis: duration.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	r.logger.Info("migrations: applied", "version", m.Version, "name", m.Name, "duration_ms", duration.Milliseconds())
	return nil
}

// warnOnChecksumMismatch reports, but never auto-corrects, a version
// whose recorded checksum no longer matches its current SQL text.
func (r *Runner) warnOnChecksumMismatch(ctx context.Context, m Migration, currentSum string) {
	applied, err := r.repo.Applied(ctx)
	if err != nil {
		return
	}
	for _, a := range applied {
		if a.Version == m.Version && a.Checksum != currentSum {
			r.logger.Warn("migrations: checksum mismatch, not auto-correcting",
				"version", m.Version, "name", m.Name, "recorded_checksum", a.Checksum, "current_checksum", currentSum)
			return
		}
	}
}

// Status returns every applied migration, ordered by version.
func (r *Runner) Status(ctx context.Context) ([]*domain.Migration, error) {
	return r.repo.Applied(ctx)
}

// Down pops and reverses the single most recently applied migration
// row. Down-migrations are opt-in (§4.10): this only removes the
// bookkeeping row, since the built-in schema and user migrations in
// this runtime do not carry reverse DDL, matching original_source's own
// rollback() (which also only pops the row).
func (r *Runner) Down(ctx context.Context) (*domain.Migration, error) {
	return r.repo.PopLast(ctx)
}
