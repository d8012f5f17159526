package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/jobqueue"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

// Func is a registered workflow's business logic. Input and output are
// opaque JSON at this boundary; Step[T] handles typed (de)serialization
// for the function body, so handler authors work with real Go types.
type Func func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

type definition struct {
	name    string
	version int
	fn      Func
}

// Registry holds registered workflow functions, keyed by name and
// version. Starting a run always uses the latest registered version for
// its name; an in-flight run keeps running the version it started with
// even if a newer one is registered later, since its replay must stay
// deterministic against the code that produced its existing step memo.
type Registry struct {
	mu      sync.RWMutex
	byNV    map[string]map[int]definition
	latestV map[string]int
}

func NewRegistry() *Registry {
	return &Registry{byNV: map[string]map[int]definition{}, latestV: map[string]int{}}
}

// Register adds fn as version of name. Panics on duplicate
// (name, version), matching this runtime's other startup registries.
func (r *Registry) Register(name string, version int, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byNV[name] == nil {
		r.byNV[name] = map[int]definition{}
	}
	if _, exists := r.byNV[name][version]; exists {
		panic(fmt.Sprintf("workflow: %q version %d already registered", name, version))
	}
	r.byNV[name][version] = definition{name: name, version: version, fn: fn}
	if version > r.latestV[name] {
		r.latestV[name] = version
	}
}

func (r *Registry) latest(name string) (definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latestV[name]
	if !ok {
		return definition{}, false
	}
	d, ok := r.byNV[name][v]
	return d, ok
}

func (r *Registry) get(name string, version int) (definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, ok := r.byNV[name]
	if !ok {
		return definition{}, false
	}
	d, ok := versions[version]
	return d, ok
}

// Engine drives workflow runs: starting new ones, invoking a run's
// function and persisting its resulting state, and resuming runs whose
// wait condition has been satisfied. It implements cron.WorkflowResumer
// so the scheduler leader's tick can drive ResumeDue without this
// package depending on internal/cron.
type Engine struct {
	registry *Registry
	repo     repository.WorkflowRepository
	queue    *jobqueue.Queue
	logger   *slog.Logger
}

func NewEngine(registry *Registry, repo repository.WorkflowRepository, queue *jobqueue.Queue, logger *slog.Logger) *Engine {
	return &Engine{registry: registry, repo: repo, queue: queue, logger: logger}
}

// Start creates a new run of the named workflow's latest version and
// invokes it immediately, synchronously, up to its first suspension or
// terminal status.
func (e *Engine) Start(ctx context.Context, name string, input any) (*domain.WorkflowRun, error) {
	def, ok := e.registry.latest(name)
	if !ok {
		return nil, domain.ErrWorkflowRunNotFound
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow input: %w", err)
	}

	run := &domain.WorkflowRun{
		ID:          uuid.NewString(),
		Name:        def.name,
		Version:     def.version,
		InputJSON:   inputJSON,
		Status:      domain.WorkflowCreated,
		StepResults: map[string]domain.StepResult{},
		StartedAt:   time.Now(),
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create workflow run: %w", err)
	}
	metrics.WorkflowRunsStartedTotal.WithLabelValues(def.name).Inc()

	e.invoke(ctx, def, run)
	return run, nil
}

// ResumeDue satisfies cron.WorkflowResumer: it invokes every run the
// repository reports ready for another attempt.
func (e *Engine) ResumeDue(ctx context.Context, limit int) error {
	runs, err := e.repo.DueToWake(ctx, limit)
	if err != nil {
		return fmt.Errorf("load due workflow runs: %w", err)
	}
	for _, run := range runs {
		def, ok := e.registry.get(run.Name, run.Version)
		if !ok {
			run.Status = domain.WorkflowFailed
			run.Error = fmt.Sprintf("workflow %q version %d is no longer registered", run.Name, run.Version)
			if err := e.repo.SaveRun(ctx, run); err != nil {
				e.logger.Error("workflow: failed to save orphaned run", "run_id", run.ID, "error", err)
			}
			continue
		}
		e.invoke(ctx, def, run)
	}
	return nil
}

// invoke runs def.fn once against run's current memo, then persists
// whatever state results: completed, waiting again, or routed into
// compensation on failure.
func (e *Engine) invoke(ctx context.Context, def definition, run *domain.WorkflowRun) {
	run.Status = domain.WorkflowRunning
	wfCtx := newContext(ctx, run, e.repo, e.queue, e, e.logger)

	output, err := def.fn(wfCtx, run.InputJSON)

	switch {
	case errors.Is(err, ErrSuspended):
		run.Status = domain.WorkflowWaiting
		if saveErr := e.repo.SaveRun(ctx, run); saveErr != nil {
			e.logger.Error("workflow: failed to save waiting run", "run_id", run.ID, "error", saveErr)
		}
	case err != nil:
		e.compensate(ctx, wfCtx, run, err)
	default:
		run.Status = domain.WorkflowCompleted
		run.OutputJSON = output
		now := time.Now()
		run.CompletedAt = &now
		if saveErr := e.repo.SaveRun(ctx, run); saveErr != nil {
			e.logger.Error("workflow: failed to save completed run", "run_id", run.ID, "error", saveErr)
		}
		metrics.WorkflowRunsFinishedTotal.WithLabelValues(run.Name, "completed").Inc()
	}
}

// compensate runs every registered compensator in LIFO order after a
// step failure, per §4.6's saga semantics: the most recently completed
// step is undone first.
func (e *Engine) compensate(ctx context.Context, wfCtx *Context, run *domain.WorkflowRun, cause error) {
	run.Status = domain.WorkflowCompensating
	run.Error = cause.Error()
	if err := e.repo.SaveRun(ctx, run); err != nil {
		e.logger.Error("workflow: failed to save compensating run", "run_id", run.ID, "error", err)
	}

	for i := len(wfCtx.compensators) - 1; i >= 0; i-- {
		comp := wfCtx.compensators[i]
		if err := comp.fn(ctx); err != nil {
			e.logger.Error("workflow: compensation failed", "run_id", run.ID, "step", comp.stepName, "error", err)
			run.Status = domain.WorkflowFailed
			run.Error = fmt.Sprintf("compensation failed at step %q: %v (original error: %v)", comp.stepName, err, cause)
			if saveErr := e.repo.SaveRun(ctx, run); saveErr != nil {
				e.logger.Error("workflow: failed to save failed run", "run_id", run.ID, "error", saveErr)
			}
			metrics.WorkflowRunsFinishedTotal.WithLabelValues(run.Name, "failed").Inc()
			return
		}
		if sr, ok := run.StepResults[comp.stepName]; ok {
			sr.Status = domain.StepCompensated
			run.StepResults[comp.stepName] = sr
		}
	}

	run.Status = domain.WorkflowCompensated
	now := time.Now()
	run.CompletedAt = &now
	if err := e.repo.SaveRun(ctx, run); err != nil {
		e.logger.Error("workflow: failed to save compensated run", "run_id", run.ID, "error", err)
	}
	metrics.WorkflowRunsFinishedTotal.WithLabelValues(run.Name, "compensated").Inc()
}

// PublishEvent records an event available for any run waiting on name
// correlated to correlationID (typically the target run's ID).
func (e *Engine) PublishEvent(ctx context.Context, name, correlationID string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return e.repo.PublishEvent(ctx, &domain.WorkflowEvent{
		ID:            uuid.NewString(),
		EventName:     name,
		CorrelationID: correlationID,
		PayloadJSON:   payloadJSON,
	})
}

// GetRun returns a run's current state, for status-lookup RPCs.
func (e *Engine) GetRun(ctx context.Context, runID string) (*domain.WorkflowRun, error) {
	return e.repo.GetRun(ctx, runID)
}
