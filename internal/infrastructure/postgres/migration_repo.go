package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type MigrationRepo struct {
	pool *pgxpool.Pool
}

func NewMigrationRepo(pool *pgxpool.Pool) *MigrationRepo {
	return &MigrationRepo{pool: pool}
}

var _ repository.MigrationRepository = (*MigrationRepo)(nil)

// EnsureTable creates forge_migrations itself, before any other schema
// exists to track — it is the one table not gated by the runner it backs.
func (r *MigrationRepo) EnsureTable(ctx context.Context) error {
	const q = `
		CREATE TABLE IF NOT EXISTS forge_migrations (
			id SERIAL PRIMARY KEY,
			version VARCHAR NOT NULL UNIQUE,
			name VARCHAR NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum VARCHAR(64) NOT NULL,
			execution_time_ms INTEGER NOT NULL
		)
	`
	_, err := r.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}
	return nil
}

func (r *MigrationRepo) IsApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM forge_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration applied: %w", err)
	}
	return exists, nil
}

func (r *MigrationRepo) Record(ctx context.Context, m *domain.Migration) error {
	const q = `
		INSERT INTO forge_migrations (version, name, checksum, execution_time_ms)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.pool.Exec(ctx, q, m.Version, m.Name, m.Checksum, m.DurationMillis)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

func (r *MigrationRepo) Applied(ctx context.Context) ([]*domain.Migration, error) {
	const q = `SELECT version, name, checksum, applied_at, execution_time_ms FROM forge_migrations ORDER BY version ASC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Migration
	for rows.Next() {
		var m domain.Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Checksum, &m.AppliedAt, &m.DurationMillis); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *MigrationRepo) PopLast(ctx context.Context) (*domain.Migration, error) {
	const q = `
		DELETE FROM forge_migrations
		WHERE version = (SELECT version FROM forge_migrations ORDER BY version DESC LIMIT 1)
		RETURNING version, name, checksum, applied_at, execution_time_ms
	`
	var m domain.Migration
	err := r.pool.QueryRow(ctx, q).Scan(&m.Version, &m.Name, &m.Checksum, &m.AppliedAt, &m.DurationMillis)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop last migration: %w", err)
	}
	return &m, nil
}
