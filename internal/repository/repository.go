// Package repository declares the storage-facing interfaces every
// component depends on, kept separate from their postgres implementations
// the way the job scheduler this runtime descends from separates
// internal/repository from internal/infrastructure/postgres.
package repository

import (
	"context"
	"time"

	"github.com/forgehq/forge/internal/domain"
)

// NodeRepository persists cluster membership rows (§4.1).
type NodeRepository interface {
	Upsert(ctx context.Context, n *domain.Node) error
	UpdateHeartbeat(ctx context.Context, nodeID string, load NodeLoad) error
	MarkDraining(ctx context.Context, nodeID string) error
	MarkDeadStale(ctx context.Context, deadThreshold time.Duration) (int64, error)
	Delete(ctx context.Context, nodeID string) error
	List(ctx context.Context) ([]*domain.Node, error)
	Get(ctx context.Context, nodeID string) (*domain.Node, error)
}

// NodeLoad is the set of mutable load metrics reported on each heartbeat.
type NodeLoad struct {
	CurrentConnections int
	CurrentJobs        int
	CPUUsage           float64
	MemoryUsage        float64
}

// LeaderRepository records lease rows alongside the advisory lock that
// actually enforces single-holder semantics (§4.2).
type LeaderRepository interface {
	WriteLease(ctx context.Context, lease *domain.LeaderLease) error
	ExtendLease(ctx context.Context, role domain.Role, holderNode string, newUntil time.Time) (bool, error)
	ExpireLease(ctx context.Context, role domain.Role, holderNode string) error
	Get(ctx context.Context, role domain.Role) (*domain.LeaderLease, error)
}

// JobRepository is the job queue's storage (§4.4).
type JobRepository interface {
	Enqueue(ctx context.Context, j *domain.Job) (*domain.Job, error)
	Claim(ctx context.Context, nodeID string, capabilities []string, jobType string, limit int) ([]*domain.Job, error)
	UpdateHeartbeat(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, output []byte) error
	Retry(ctx context.Context, jobID string, errMsg string, scheduledAt time.Time) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	DeadLetter(ctx context.Context, jobID string, errMsg string) error
	RecoverStuck(ctx context.Context, stuckThreshold time.Duration) (int64, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, status domain.JobStatus, cursor string, limit int) ([]*domain.Job, string, error)
}

// CronRepository persists planned cron occurrences (§4.5).
type CronRepository interface {
	PlanRun(ctx context.Context, run *domain.CronRun) (created bool, err error)
	LastPlanned(ctx context.Context, cronName string) (time.Time, error)
	LastSuccess(ctx context.Context, cronName string) (time.Time, bool, error)
	MarkRunning(ctx context.Context, runID string, jobID string) error
	MarkOutcome(ctx context.Context, runID string, status domain.CronRunStatus) error
}

// WorkflowRepository persists run/step/event state (§4.6).
type WorkflowRepository interface {
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error)
	SaveRun(ctx context.Context, run *domain.WorkflowRun) error
	UpsertStep(ctx context.Context, step *domain.WorkflowStepRecord) error
	DueToWake(ctx context.Context, limit int) ([]*domain.WorkflowRun, error)

	PublishEvent(ctx context.Context, ev *domain.WorkflowEvent) error
	ConsumeEvent(ctx context.Context, eventName, correlationID, consumerRunID string) (*domain.WorkflowEvent, error)
}

// RateLimitRepository enforces the token bucket (§4.9).
type RateLimitRepository interface {
	Check(ctx context.Context, key string, maxTokens, refillRate float64) (tokens float64, allowed bool, err error)
	Reset(ctx context.Context, key string) error
}

// SessionRepository persists realtime session/subscription rows (§4.8).
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	Touch(ctx context.Context, sessionID string) error
	MarkDeadForNode(ctx context.Context, nodeID string) (int64, error)
	Delete(ctx context.Context, sessionID string) error

	AddSubscription(ctx context.Context, sub *domain.Subscription) error
	RemoveSubscription(ctx context.Context, subscriptionID string) error
	SubscriptionsForTable(ctx context.Context, table string) ([]*domain.Subscription, error)
}

// MigrationRepository tracks applied migrations (§4.10).
type MigrationRepository interface {
	EnsureTable(ctx context.Context) error
	IsApplied(ctx context.Context, version string) (bool, error)
	Record(ctx context.Context, m *domain.Migration) error
	Applied(ctx context.Context) ([]*domain.Migration, error)
	PopLast(ctx context.Context) (*domain.Migration, error)
}

// UserRepository and MagicTokenRepository are kept from the magic-link
// auth flow the job scheduler this runtime descends from already has.
type UserRepository interface {
	Create(ctx context.Context, email string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type MagicTokenRepository interface {
	Create(ctx context.Context, t *domain.MagicToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.MagicToken, error)
	MarkUsed(ctx context.Context, id string) error
}

// ObservabilityRepository persists batches of captured metrics, logs, and
// spans into the forge_metrics/forge_logs/forge_traces tables (the
// observability bridge's only storage dependency).
type ObservabilityRepository interface {
	WriteMetrics(ctx context.Context, batch []domain.MetricRecord) error
	WriteLogs(ctx context.Context, batch []domain.LogRecord) error
	WriteSpans(ctx context.Context, batch []domain.SpanRecord) error
}
