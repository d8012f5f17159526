package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/jobqueue"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

type compensator struct {
	stepName string
	fn       func(ctx context.Context) error
}

// Context is the single argument passed to a registered workflow
// function. It exposes the suspendable primitives (Step, Sleep,
// WaitEvent) and the side-effecting dispatch helpers (DispatchJob,
// DispatchWorkflow); a function must treat it as the only legitimate
// channel for durable side effects, per §4.6's "steps must not perform
// side effects outside Run" contract.
type Context struct {
	stdCtx context.Context
	run    *domain.WorkflowRun
	repo   repository.WorkflowRepository
	queue  *jobqueue.Queue
	engine *Engine
	logger *slog.Logger

	seq          int
	compensators []compensator
}

func newContext(stdCtx context.Context, run *domain.WorkflowRun, repo repository.WorkflowRepository, queue *jobqueue.Queue, engine *Engine, logger *slog.Logger) *Context {
	return &Context{stdCtx: stdCtx, run: run, repo: repo, queue: queue, engine: engine, logger: logger}
}

// RunID returns this invocation's workflow run ID, the value callers
// should use as WaitEvent's implicit correlation token when publishing
// events meant for this run.
func (c *Context) RunID() string { return c.run.ID }

func (c *Context) pushCompensator(name string, fn func(ctx context.Context) error) {
	c.compensators = append(c.compensators, compensator{stepName: name, fn: fn})
}

func (c *Context) recordStepStart(name string) {
	now := time.Now()
	c.run.StepResults[name] = domain.StepResult{Status: domain.StepRunning}
	_ = c.repo.UpsertStep(c.stdCtx, &domain.WorkflowStepRecord{
		ID: uuid.NewString(), RunID: c.run.ID, StepName: name, Status: domain.StepRunning, StartedAt: now,
	})
}

func (c *Context) recordStepSuccess(name string, val any) {
	resultJSON, err := json.Marshal(val)
	if err != nil {
		resultJSON = nil
	}
	now := time.Now()
	c.run.StepResults[name] = domain.StepResult{Status: domain.StepCompleted, Result: resultJSON, CompletedAt: &now}
	_ = c.repo.UpsertStep(c.stdCtx, &domain.WorkflowStepRecord{
		ID: uuid.NewString(), RunID: c.run.ID, StepName: name, Status: domain.StepCompleted,
		ResultJSON: resultJSON, StartedAt: now, CompletedAt: &now,
	})
	metrics.WorkflowStepDuration.WithLabelValues(c.run.Name, name).Observe(time.Since(now).Seconds())
}

func (c *Context) recordStepFailure(name string, stepErr error) {
	now := time.Now()
	c.run.StepResults[name] = domain.StepResult{Status: domain.StepFailed, Error: stepErr.Error(), CompletedAt: &now}
	_ = c.repo.UpsertStep(c.stdCtx, &domain.WorkflowStepRecord{
		ID: uuid.NewString(), RunID: c.run.ID, StepName: name, Status: domain.StepFailed,
		Error: stepErr.Error(), StartedAt: now, CompletedAt: &now,
	})
}

func (c *Context) recordStepSkipped(name string, stepErr error) {
	now := time.Now()
	c.run.StepResults[name] = domain.StepResult{Status: domain.StepSkipped, Error: stepErr.Error(), CompletedAt: &now}
	_ = c.repo.UpsertStep(c.stdCtx, &domain.WorkflowStepRecord{
		ID: uuid.NewString(), RunID: c.run.ID, StepName: name, Status: domain.StepSkipped,
		Error: stepErr.Error(), StartedAt: now, CompletedAt: &now,
	})
	if c.logger != nil {
		c.logger.Warn("workflow: optional step failed, continuing", "workflow", c.run.Name, "step", name, "error", stepErr)
	}
}

// Sleep suspends the run until d has elapsed. The first time the
// program reaches this call it records a wake marker and returns
// ErrSuspended; the caller must propagate it. On replay after the wake
// time passes, the marker is already memoized and Sleep returns nil
// immediately, letting execution continue past it.
func (c *Context) Sleep(d time.Duration) error {
	c.seq++
	key := fmt.Sprintf("__sleep_%d", c.seq)
	if cached, ok := c.run.StepResults[key]; ok && cached.Status == domain.StepCompleted {
		return nil
	}

	wake := time.Now().Add(d)
	c.run.WakeAt = &wake
	now := time.Now()
	c.run.StepResults[key] = domain.StepResult{Status: domain.StepCompleted, CompletedAt: &now}
	return ErrSuspended
}

// WaitEvent suspends the run until an event named name is published
// with this run's ID as its correlation ID, or until timeout elapses
// (zero means wait indefinitely). It returns the event's payload on
// resumption, or a forgeerr.KindTimeout error if the wait timed out.
func (c *Context) WaitEvent(name string, timeout time.Duration) (json.RawMessage, error) {
	c.seq++
	key := fmt.Sprintf("__wait_event_%d_%s", c.seq, name)

	if cached, ok := c.run.StepResults[key]; ok {
		switch cached.Status {
		case domain.StepCompleted:
			return cached.Result, nil
		case domain.StepFailed:
			return nil, forgeerr.New(forgeerr.KindTimeout, cached.Error)
		}
	}

	ev, err := c.repo.ConsumeEvent(c.stdCtx, name, c.run.ID, c.run.ID)
	if err != nil {
		return nil, fmt.Errorf("consume workflow event: %w", err)
	}
	if ev != nil {
		now := time.Now()
		c.run.StepResults[key] = domain.StepResult{Status: domain.StepCompleted, Result: ev.PayloadJSON, CompletedAt: &now}
		c.run.WaitingEvent = ""
		c.run.WaitingTimeout = nil
		return ev.PayloadJSON, nil
	}

	if c.run.WaitingEvent == name && c.run.WaitingTimeout != nil && !time.Now().Before(*c.run.WaitingTimeout) {
		msg := fmt.Sprintf("timed out waiting for event %q", name)
		now := time.Now()
		c.run.StepResults[key] = domain.StepResult{Status: domain.StepFailed, Error: msg, CompletedAt: &now}
		c.run.WaitingEvent = ""
		c.run.WaitingTimeout = nil
		return nil, forgeerr.New(forgeerr.KindTimeout, msg)
	}

	c.run.WaitingEvent = name
	if timeout > 0 {
		t := time.Now().Add(timeout)
		c.run.WaitingTimeout = &t
		c.run.WakeAt = &t
	}
	return nil, ErrSuspended
}

// DispatchJob enqueues a background job from within a workflow step,
// the bridge this engine's saga steps use to reach the worker pool
// instead of performing the side effect inline.
func (c *Context) DispatchJob(ctx context.Context, req jobqueue.EnqueueRequest) (*domain.Job, error) {
	return c.queue.Enqueue(ctx, req)
}

// DispatchWorkflow starts a child workflow run, independent of this
// run's lifecycle (its compensation stack does not reach into the
// child).
func (c *Context) DispatchWorkflow(ctx context.Context, name string, input any) (*domain.WorkflowRun, error) {
	return c.engine.Start(ctx, name, input)
}

// StdContext returns the run's underlying context.Context. It does not
// carry a step's Timeout; Step.Run passes the timeout-bound context to
// the step body as its argument.
func StdContext(c *Context) context.Context { return c.stdCtx }
