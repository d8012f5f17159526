package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type CronRepo struct {
	pool *pgxpool.Pool
}

func NewCronRepo(pool *pgxpool.Pool) *CronRepo {
	return &CronRepo{pool: pool}
}

var _ repository.CronRepository = (*CronRepo)(nil)

// PlanRun inserts a planned row for (cron_name, scheduled_time). The
// uniqueness constraint makes concurrent leaders planning the same
// occurrence a no-op: created is false when another leader already won.
func (r *CronRepo) PlanRun(ctx context.Context, run *domain.CronRun) (bool, error) {
	const q = `
		INSERT INTO forge_cron_runs (id, cron_name, scheduled_time, status, is_catch_up)
		VALUES ($1, $2, $3, 'planned', $4)
		ON CONFLICT (cron_name, scheduled_time) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, q, run.ID, run.CronName, run.ScheduledTime, run.IsCatchUp)
	if err != nil {
		return false, fmt.Errorf("plan cron run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CronRepo) LastPlanned(ctx context.Context, cronName string) (time.Time, error) {
	const q = `SELECT COALESCE(MAX(scheduled_time), 'epoch'::timestamptz) FROM forge_cron_runs WHERE cron_name = $1`
	var t time.Time
	if err := r.pool.QueryRow(ctx, q, cronName).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("last planned cron run: %w", err)
	}
	return t, nil
}

func (r *CronRepo) LastSuccess(ctx context.Context, cronName string) (time.Time, bool, error) {
	const q = `
		SELECT scheduled_time FROM forge_cron_runs
		WHERE cron_name = $1 AND status = 'completed'
		ORDER BY scheduled_time DESC LIMIT 1
	`
	var t time.Time
	err := r.pool.QueryRow(ctx, q, cronName).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last successful cron run: %w", err)
	}
	return t, true, nil
}

func (r *CronRepo) MarkRunning(ctx context.Context, runID string, jobID string) error {
	const q = `UPDATE forge_cron_runs SET status = 'running', actual_start = now(), job_id = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, runID, jobID)
	if err != nil {
		return fmt.Errorf("mark cron run running: %w", err)
	}
	return nil
}

func (r *CronRepo) MarkOutcome(ctx context.Context, runID string, status domain.CronRunStatus) error {
	const q = `UPDATE forge_cron_runs SET status = $2, actual_end = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, runID, string(status))
	if err != nil {
		return fmt.Errorf("mark cron run outcome: %w", err)
	}
	return nil
}
