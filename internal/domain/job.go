package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrDuplicateJob   = errors.New("job with this type and idempotency key already exists")
	ErrInvalidBackoff = errors.New("invalid backoff strategy")
)

// JobStatus is the job lifecycle state machine: pending -> claimed ->
// running -> (completed | retry -> pending | failed | dead_letter).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobClaimed    JobStatus = "claimed"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobRetry      JobStatus = "retry"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Terminal reports whether no further transition of the job is expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobDeadLetter:
		return true
	default:
		return false
	}
}

// Backoff is a retry delay strategy.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryDelay computes the delay before attempt number attempt (1-indexed,
// the attempt that just failed), capped at maxBackoff. base is the unit
// delay for attempt 1.
func (b Backoff) RetryDelay(attempt int, base, maxBackoff time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch b {
	case BackoffLinear:
		d = base * time.Duration(attempt)
	case BackoffExponential:
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d > maxBackoff {
				break
			}
		}
	default:
		d = base
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Job is a single unit of asynchronous work dispatched by type to a
// registered handler. It generalizes the HTTP-callback job of the job
// scheduler this runtime is descended from: args_json/output_json are
// opaque to the queue and interpreted only by the handler named by Type.
type Job struct {
	ID                 string
	Type               string
	ArgsJSON           json.RawMessage
	Priority           int
	Status             JobStatus
	Attempts           int
	MaxAttempts        int
	Backoff            Backoff
	MaxBackoff         time.Duration
	Timeout            time.Duration
	RetryOn            []string
	ScheduledAt        time.Time
	RequiredCapability string
	IdempotencyKey     string
	ClaimedByNode      string
	ClaimedAt          *time.Time
	LastHeartbeat      *time.Time
	CompletedAt        *time.Time
	Error              string
	OutputJSON         json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ExhaustedRetries reports whether the job has used up its retry budget.
func (j *Job) ExhaustedRetries() bool {
	return j.Attempts >= j.MaxAttempts
}
