package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type WorkflowRepo struct {
	pool *pgxpool.Pool
}

func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

var _ repository.WorkflowRepository = (*WorkflowRepo)(nil)

func (r *WorkflowRepo) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	stepResults, err := json.Marshal(run.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	const q = `
		INSERT INTO forge_workflow_runs
			(id, name, version, input_json, status, current_step, step_results_json, started_at, trace_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
	`
	_, err = r.pool.Exec(ctx, q, run.ID, run.Name, run.Version, run.InputJSON, string(run.Status), run.CurrentStep, stepResults, run.TraceID)
	if err != nil {
		return fmt.Errorf("create workflow run: %w", err)
	}
	return nil
}

func (r *WorkflowRepo) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	const q = `
		SELECT id, name, version, input_json, output_json, status, current_step, step_results_json,
		       waiting_event, waiting_timeout, wake_at, started_at, completed_at, error, trace_id
		FROM forge_workflow_runs WHERE id = $1
	`
	run, err := scanWorkflowRun(r.pool.QueryRow(ctx, q, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkflowRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// SaveRun persists the full run state: status, current step, the
// step_results memo map, and wait/wake bookkeeping. The engine calls it
// when a run suspends, completes, or enters or finishes compensation;
// individual step transitions are written through UpsertStep.
func (r *WorkflowRepo) SaveRun(ctx context.Context, run *domain.WorkflowRun) error {
	stepResults, err := json.Marshal(run.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}
	const q = `
		UPDATE forge_workflow_runs SET
			status = $2, current_step = $3, step_results_json = $4, output_json = $5,
			waiting_event = $6, waiting_timeout = $7, wake_at = $8, completed_at = $9, error = $10
		WHERE id = $1
	`
	_, err = r.pool.Exec(ctx, q, run.ID, string(run.Status), run.CurrentStep, stepResults, run.OutputJSON,
		nullString(run.WaitingEvent), run.WaitingTimeout, run.WakeAt, run.CompletedAt, run.Error)
	if err != nil {
		return fmt.Errorf("save workflow run: %w", err)
	}
	return nil
}

func (r *WorkflowRepo) UpsertStep(ctx context.Context, step *domain.WorkflowStepRecord) error {
	const q = `
		INSERT INTO forge_workflow_steps (id, workflow_run_id, step_name, status, result_json, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (workflow_run_id, step_name) DO UPDATE SET
			status = EXCLUDED.status, result_json = EXCLUDED.result_json, error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.pool.Exec(ctx, q, step.ID, step.RunID, step.StepName, string(step.Status), step.ResultJSON,
		step.Error, step.StartedAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert workflow step: %w", err)
	}
	return nil
}

// DueToWake selects waiting runs ready for another invocation: a sleep
// or event-wait timeout whose wake_at has passed, or an event wait for
// which a matching unconsumed event now exists. The resume loop treats
// both the same way — replay the run and let its Context primitives
// sort out which case applies.
func (r *WorkflowRepo) DueToWake(ctx context.Context, limit int) ([]*domain.WorkflowRun, error) {
	const q = `
		SELECT id, name, version, input_json, output_json, status, current_step, step_results_json,
		       waiting_event, waiting_timeout, wake_at, started_at, completed_at, error, trace_id
		FROM forge_workflow_runs r
		WHERE status = 'waiting' AND (
			(wake_at IS NOT NULL AND wake_at <= now())
			OR (waiting_event IS NOT NULL AND EXISTS (
				SELECT 1 FROM forge_workflow_events e
				WHERE e.event_name = r.waiting_event AND e.correlation_id = r.id AND e.consumed_at IS NULL
			))
		)
		ORDER BY COALESCE(wake_at, started_at) ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select due workflow runs: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkflowRun
	for rows.Next() {
		run, err := scanWorkflowRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *WorkflowRepo) PublishEvent(ctx context.Context, ev *domain.WorkflowEvent) error {
	const q = `
		INSERT INTO forge_workflow_events (id, event_name, correlation_id, payload_json, created_at)
		VALUES ($1, $2, $3, $4, now())
	`
	_, err := r.pool.Exec(ctx, q, ev.ID, ev.EventName, ev.CorrelationID, ev.PayloadJSON)
	if err != nil {
		return fmt.Errorf("publish workflow event: %w", err)
	}
	return nil
}

// ConsumeEvent atomically claims one matching pending event, making
// consumption and the caller's advance indivisible: an event can be
// consumed by at most one run.
func (r *WorkflowRepo) ConsumeEvent(ctx context.Context, eventName, correlationID, consumerRunID string) (*domain.WorkflowEvent, error) {
	const q = `
		UPDATE forge_workflow_events
		SET consumed_at = now(), consumed_by = $3
		WHERE id = (
			SELECT id FROM forge_workflow_events
			WHERE event_name = $1 AND correlation_id = $2 AND consumed_at IS NULL
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, event_name, correlation_id, payload_json, created_at, consumed_at, consumed_by
	`
	row := r.pool.QueryRow(ctx, q, eventName, correlationID, consumerRunID)
	var ev domain.WorkflowEvent
	var consumedBy *string
	err := row.Scan(&ev.ID, &ev.EventName, &ev.CorrelationID, &ev.PayloadJSON, &ev.CreatedAt, &ev.ConsumedAt, &consumedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume workflow event: %w", err)
	}
	if consumedBy != nil {
		ev.ConsumedBy = *consumedBy
	}
	return &ev, nil
}

func scanWorkflowRun(row rowScanner) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	var status string
	var stepResults []byte
	var waitingEvent *string
	err := row.Scan(
		&run.ID, &run.Name, &run.Version, &run.InputJSON, &run.OutputJSON, &status, &run.CurrentStep,
		&stepResults, &waitingEvent, &run.WaitingTimeout, &run.WakeAt, &run.StartedAt, &run.CompletedAt,
		&run.Error, &run.TraceID,
	)
	if err != nil {
		return nil, fmt.Errorf("scan workflow run: %w", err)
	}
	run.Status = domain.WorkflowRunStatus(status)
	if waitingEvent != nil {
		run.WaitingEvent = *waitingEvent
	}
	run.StepResults = map[string]domain.StepResult{}
	if len(stepResults) > 0 {
		if err := json.Unmarshal(stepResults, &run.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step results: %w", err)
		}
	}
	return &run, nil
}
