// Package cron implements the cron scheduler (§4.5) together with the
// other two responsibilities assigned to the scheduler leader by the
// design notes: stuck-claim recovery and the workflow resume loop
// (§9's open questions, decided in favor of a single leader-gated tick
// covering all three). Grounded on the job scheduler this runtime
// descends from's scheduler/dispatcher.go (ClaimAndFire-style atomic
// claim+advance transaction shape) and on original_source's
// cron/registry.rs for catch-up enumeration.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/jobqueue"
	"github.com/forgehq/forge/internal/leader"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// normalizeExpr prepends a seconds field of 0 to a five-field expression,
// per §4.5 item 1.
func normalizeExpr(expr string) string {
	fields := 1
	inSpace := false
	for _, r := range expr {
		if r == ' ' {
			if !inSpace {
				fields++
			}
			inSpace = true
		} else {
			inSpace = false
		}
	}
	if fields == 5 {
		return "0 " + expr
	}
	return expr
}

// Schedule parses def's expression (with per-cron timezone via robfig's
// native CRON_TZ= prefix mechanism) into a cron.Schedule.
func Schedule(def domain.CronDefinition) (cron.Schedule, error) {
	expr := normalizeExpr(def.Expression)
	if def.Timezone != "" && def.Timezone != "UTC" {
		expr = fmt.Sprintf("CRON_TZ=%s %s", def.Timezone, expr)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidCronExpr, def.Expression, err)
	}
	return sched, nil
}

// Registry holds the in-memory cron definitions (§3: "no row per
// definition required").
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]domain.CronDefinition
}

func NewRegistry() *Registry {
	return &Registry{defs: map[string]domain.CronDefinition{}}
}

func (r *Registry) Register(def domain.CronDefinition) error {
	if _, err := Schedule(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return domain.ErrCronAlreadyExists
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) All() []domain.CronDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CronDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WorkflowResumer drives waiting workflow runs whose wake time has
// arrived. Implemented by internal/workflow.Engine; declared here as an
// interface to keep this package decoupled from workflow internals.
type WorkflowResumer interface {
	ResumeDue(ctx context.Context, limit int) error
}

// Config controls tick cadence and the two other leader-gated duties.
type Config struct {
	TickInterval   time.Duration
	StuckThreshold time.Duration
	ResumeBatch    int
}

// Runner is the scheduler leader's tick loop: plan due cron occurrences,
// recover stuck job claims, and resume waiting workflow runs. It must
// only run while the caller holds the scheduler leader lease.
type Runner struct {
	registry *Registry
	crons    repository.CronRepository
	jobs     repository.JobRepository
	queue    *jobqueue.Queue
	resumer  WorkflowResumer
	elector  *leader.Elector
	cfg      Config
	logger   *slog.Logger
}

func NewRunner(registry *Registry, crons repository.CronRepository, jobs repository.JobRepository, queue *jobqueue.Queue, resumer WorkflowResumer, elector *leader.Elector, cfg Config, logger *slog.Logger) *Runner {
	if cfg.ResumeBatch <= 0 {
		cfg.ResumeBatch = 50
	}
	return &Runner{registry: registry, crons: crons, jobs: jobs, queue: queue, resumer: resumer, elector: elector, cfg: cfg, logger: logger}
}

// Run ticks at cfg.TickInterval until ctx is cancelled, only acting while
// this node holds the scheduler leader lease.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.elector.IsHeld() {
				continue
			}
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	for _, def := range r.registry.All() {
		if !def.Enabled {
			continue
		}
		if err := r.planCron(ctx, def); err != nil {
			r.logger.Warn("cron: plan failed", "cron_name", def.Name, "error", err)
		}
	}

	if r.jobs != nil {
		rescued, err := r.jobs.RecoverStuck(ctx, r.cfg.StuckThreshold)
		if err != nil {
			r.logger.Warn("cron: stuck-claim recovery failed", "error", err)
		} else if rescued > 0 {
			metrics.StuckClaimRecoveredTotal.WithLabelValues("retry").Add(float64(rescued))
		}
	}

	if r.resumer != nil {
		if err := r.resumer.ResumeDue(ctx, r.cfg.ResumeBatch); err != nil {
			r.logger.Warn("cron: workflow resume failed", "error", err)
		}
	}
}

// planCron computes the next occurrence(s) and plans rows for them. A
// planned row is the atomic commitment point (§4.5): once it exists, the
// job queue guarantees it is eventually executed or explicitly skipped.
func (r *Runner) planCron(ctx context.Context, def domain.CronDefinition) error {
	sched, err := Schedule(def)
	if err != nil {
		return err
	}

	now := time.Now()
	lastPlanned, err := r.crons.LastPlanned(ctx, def.Name)
	if err != nil {
		return err
	}

	next := sched.Next(lastPlanned)
	if !next.After(now) {
		if err := r.plan(ctx, def, next, false); err != nil {
			return err
		}
	}

	if def.CatchUp {
		if err := r.catchUp(ctx, def, sched, now); err != nil {
			return err
		}
	}

	return nil
}

// catchUp enumerates missed occurrences since the last success, capped at
// catch_up_limit; anything beyond the cap is skipped with no row, per
// §4.5 item 3.
func (r *Runner) catchUp(ctx context.Context, def domain.CronDefinition, sched cron.Schedule, now time.Time) error {
	lastSuccess, ok, err := r.crons.LastSuccess(ctx, def.Name)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var missed []time.Time
	t := sched.Next(lastSuccess)
	for !t.After(now) {
		missed = append(missed, t)
		t = sched.Next(t)
	}

	skipped := 0
	if len(missed) > def.CatchUpLimit {
		skipped = len(missed) - def.CatchUpLimit
		missed = missed[len(missed)-def.CatchUpLimit:]
	}
	if skipped > 0 {
		metrics.CronCatchUpSkippedTotal.WithLabelValues(def.Name).Add(float64(skipped))
	}

	for _, occurrence := range missed {
		if err := r.plan(ctx, def, occurrence, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) plan(ctx context.Context, def domain.CronDefinition, scheduledTime time.Time, catchUp bool) error {
	run := &domain.CronRun{
		ID:            uuid.NewString(),
		CronName:      def.Name,
		ScheduledTime: scheduledTime,
		Status:        domain.CronRunPlanned,
		IsCatchUp:     catchUp,
	}
	created, err := r.crons.PlanRun(ctx, run)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	catchUpLabel := "false"
	if catchUp {
		catchUpLabel = "true"
	}
	metrics.CronRunsPlannedTotal.WithLabelValues(def.Name, catchUpLabel).Inc()

	jobType := def.JobType
	if jobType == "" {
		jobType = "cron:" + def.Name
	}
	job, err := r.queue.Enqueue(ctx, jobqueue.EnqueueRequest{
		Type:           jobType,
		Args:           map[string]any{"cron_run_id": run.ID, "cron_name": def.Name, "scheduled_time": scheduledTime},
		IdempotencyKey: fmt.Sprintf("cron:%s:%d", def.Name, scheduledTime.Unix()),
		MaxAttempts:    1,
	})
	if err != nil {
		return err
	}
	return r.crons.MarkRunning(ctx, run.ID, job.ID)
}
