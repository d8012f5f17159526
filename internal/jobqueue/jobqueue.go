// Package jobqueue is the usecase layer over the job repository: enqueue
// with idempotency-key dedup, grounded on the intended
// usecase.JobUsecase shape of the job scheduler this runtime descends
// from (its own sketch of this layer was left unfinished; this package
// completes it against the generalized typed-job model).
package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

// EnqueueRequest describes a caller's request to run a job.
type EnqueueRequest struct {
	Type               string
	Args               any
	Priority           int
	MaxAttempts        int
	Backoff            domain.Backoff
	BaseBackoff        time.Duration
	MaxBackoff         time.Duration
	Timeout            time.Duration
	RetryOn            []string
	ScheduledAt        *time.Time
	RequiredCapability string
	IdempotencyKey     string
}

// Queue is the enqueue-facing API used by the gateway, cron runner, and
// workflow executor's dispatch primitive.
type Queue struct {
	jobs repository.JobRepository
}

func New(jobs repository.JobRepository) *Queue {
	return &Queue{jobs: jobs}
}

// Enqueue inserts a pending job, or returns the id of an existing
// non-terminal row for the same (type, idempotency_key) pair.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, error) {
	argsJSON, err := json.Marshal(req.Args)
	if err != nil {
		return nil, err
	}

	scheduledAt := time.Now()
	if req.ScheduledAt != nil {
		scheduledAt = *req.ScheduledAt
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := req.Backoff
	if backoff == "" {
		backoff = domain.BackoffExponential
	}
	maxBackoff := req.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = time.Hour
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	j := &domain.Job{
		ID:                 uuid.NewString(),
		Type:               req.Type,
		ArgsJSON:           argsJSON,
		Priority:           req.Priority,
		Status:             domain.JobPending,
		MaxAttempts:        maxAttempts,
		Backoff:            backoff,
		MaxBackoff:         maxBackoff,
		Timeout:            timeout,
		RetryOn:            req.RetryOn,
		ScheduledAt:        scheduledAt,
		RequiredCapability: req.RequiredCapability,
		IdempotencyKey:     req.IdempotencyKey,
	}

	return q.jobs.Enqueue(ctx, j)
}

// Get looks up a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	return q.jobs.Get(ctx, id)
}
