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

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

var _ repository.JobRepository = (*JobRepo)(nil)

// Enqueue inserts a pending job. When an idempotency key is supplied, a
// conflicting insert for the same (type, key) non-terminal row returns the
// existing row instead of erroring — this is the idempotent-enqueue
// mechanism S6 exercises.
func (r *JobRepo) Enqueue(ctx context.Context, j *domain.Job) (*domain.Job, error) {
	const q = `
		INSERT INTO forge_jobs
			(id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
			 retry_on, scheduled_at, required_capability, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (type, idempotency_key) WHERE idempotency_key IS NOT NULL AND status NOT IN ('completed','failed','dead_letter')
		DO NOTHING
		RETURNING id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
		          retry_on, scheduled_at, required_capability, idempotency_key, claimed_by_node, claimed_at,
		          last_heartbeat, completed_at, error, output_json, created_at, updated_at
	`
	row := r.pool.QueryRow(ctx, q,
		j.ID, j.Type, j.ArgsJSON, j.Priority, j.MaxAttempts, string(j.Backoff), j.MaxBackoff.Milliseconds(),
		j.Timeout.Milliseconds(), j.RetryOn, j.ScheduledAt, nullString(j.RequiredCapability), nullString(j.IdempotencyKey))

	created, err := scanJob(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	// Conflict path: return the existing non-terminal row for this key.
	if j.IdempotencyKey == "" {
		return nil, fmt.Errorf("enqueue job: conflicting insert with no idempotency key")
	}
	const existingQ = `
		SELECT id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
		       retry_on, scheduled_at, required_capability, idempotency_key, claimed_by_node, claimed_at,
		       last_heartbeat, completed_at, error, output_json, created_at, updated_at
		FROM forge_jobs
		WHERE type = $1 AND idempotency_key = $2 AND status NOT IN ('completed','failed','dead_letter')
	`
	existing, err := scanJob(r.pool.QueryRow(ctx, existingQ, j.Type, j.IdempotencyKey))
	if err != nil {
		return nil, fmt.Errorf("lookup existing job after conflict: %w", err)
	}
	return existing, nil
}

// Claim is the heart of the queue: SKIP LOCKED lets many workers poll
// concurrently with no starvation or contention.
func (r *JobRepo) Claim(ctx context.Context, nodeID string, capabilities []string, jobType string, limit int) ([]*domain.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT id FROM forge_jobs
		WHERE status IN ('pending', 'retry')
		  AND scheduled_at <= now()
		  AND (required_capability IS NULL OR required_capability = ANY($1))
		  AND ($2 = '' OR type = $2)
		ORDER BY priority DESC, scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`
	rows, err := tx.Query(ctx, selectQ, capabilities, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("select claimable jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claimable id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	const updateQ = `
		UPDATE forge_jobs
		SET status = 'claimed', claimed_by_node = $2, claimed_at = now(), last_heartbeat = now(),
		    attempts = attempts + 1, updated_at = now()
		WHERE id = ANY($1)
		RETURNING id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
		          retry_on, scheduled_at, required_capability, idempotency_key, claimed_by_node, claimed_at,
		          last_heartbeat, completed_at, error, output_json, created_at, updated_at
	`
	claimRows, err := tx.Query(ctx, updateQ, ids, nodeID)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	var claimed []*domain.Job
	for claimRows.Next() {
		j, err := scanJob(claimRows)
		if err != nil {
			claimRows.Close()
			return nil, err
		}
		claimed = append(claimed, j)
	}
	claimRows.Close()
	if err := claimRows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return claimed, nil
}

func (r *JobRepo) UpdateHeartbeat(ctx context.Context, jobID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE forge_jobs SET last_heartbeat = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("update job heartbeat: %w", err)
	}
	return nil
}

func (r *JobRepo) Complete(ctx context.Context, jobID string, output []byte) error {
	const q = `UPDATE forge_jobs SET status = 'completed', output_json = $2, completed_at = now(), updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, output)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

func (r *JobRepo) Retry(ctx context.Context, jobID string, errMsg string, scheduledAt time.Time) error {
	const q = `UPDATE forge_jobs SET status = 'retry', error = $2, scheduled_at = $3, updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, errMsg, scheduledAt)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

func (r *JobRepo) Fail(ctx context.Context, jobID string, errMsg string) error {
	const q = `UPDATE forge_jobs SET status = 'failed', error = $2, completed_at = now(), updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (r *JobRepo) DeadLetter(ctx context.Context, jobID string, errMsg string) error {
	const q = `UPDATE forge_jobs SET status = 'dead_letter', error = $2, completed_at = now(), updated_at = now() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, jobID, errMsg)
	if err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

// RecoverStuck moves claimed/running rows whose heartbeat has gone stale
// back to retry. This is the only way a job claimed by a dead node
// re-enters the queue.
func (r *JobRepo) RecoverStuck(ctx context.Context, stuckThreshold time.Duration) (int64, error) {
	const q = `
		UPDATE forge_jobs
		SET status = 'retry', error = 'stuck claim recovered', updated_at = now()
		WHERE status IN ('claimed', 'running')
		  AND last_heartbeat < now() - make_interval(secs => $1)
	`
	tag, err := r.pool.Exec(ctx, q, stuckThreshold.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stuck jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepo) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	const q = `
		SELECT id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
		       retry_on, scheduled_at, required_capability, idempotency_key, claimed_by_node, claimed_at,
		       last_heartbeat, completed_at, error, output_json, created_at, updated_at
		FROM forge_jobs WHERE id = $1
	`
	j, err := scanJob(r.pool.QueryRow(ctx, q, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepo) List(ctx context.Context, status domain.JobStatus, cursor string, limit int) ([]*domain.Job, string, error) {
	const q = `
		SELECT id, type, args_json, priority, status, attempts, max_attempts, backoff, max_backoff_ms, timeout_ms,
		       retry_on, scheduled_at, required_capability, idempotency_key, claimed_by_node, claimed_at,
		       last_heartbeat, completed_at, error, output_json, created_at, updated_at
		FROM forge_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR id > $2)
		ORDER BY id ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, q, string(status), cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) == limit && limit > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var status, backoff string
	var maxBackoffMS, timeoutMS int64
	var requiredCap, idempotencyKey *string
	err := row.Scan(
		&j.ID, &j.Type, &j.ArgsJSON, &j.Priority, &status, &j.Attempts, &j.MaxAttempts, &backoff, &maxBackoffMS, &timeoutMS,
		&j.RetryOn, &j.ScheduledAt, &requiredCap, &idempotencyKey, &j.ClaimedByNode, &j.ClaimedAt,
		&j.LastHeartbeat, &j.CompletedAt, &j.Error, &j.OutputJSON, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatus(status)
	j.Backoff = domain.Backoff(backoff)
	j.MaxBackoff = time.Duration(maxBackoffMS) * time.Millisecond
	j.Timeout = time.Duration(timeoutMS) * time.Millisecond
	if requiredCap != nil {
		j.RequiredCapability = *requiredCap
	}
	if idempotencyKey != nil {
		j.IdempotencyKey = *idempotencyKey
	}
	return &j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
