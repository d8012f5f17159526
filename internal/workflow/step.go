// Package workflow implements the durable, replay-via-memoization saga
// engine (§4.6), grounded on original_source's
// forge-core/src/workflow/step_runner.rs (the fluent Step builder and its
// completed-check-before-execute memoization) and
// forge-runtime/src/workflow/state.rs (the run/step record lifecycle,
// already mirrored by internal/domain's WorkflowRun and
// WorkflowStepRecord). Step itself follows the "generalize the teacher's
// concrete type into a generic" instruction this runtime's dispatch
// pipeline also used for its typed job args.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
)

// ErrSuspended is returned by Context.Sleep and Context.WaitEvent to
// signal that this invocation must stop and persist its waiting state.
// A workflow function must propagate it immediately, exactly as it must
// propagate any other step error — there is no hidden control-flow
// trick here, just an error value authors are expected to return.
var ErrSuspended = fmt.Errorf("workflow: suspended")

// Step is a named, replayable unit of work within a workflow function.
// Re-entering the same program point on replay finds the step already
// completed in the run's memo and returns the cached result without
// re-executing fn, the mechanism that makes suspension and resumption
// safe for steps with external side effects.
type Step[T any] struct {
	ctx        *Context
	name       string
	fn         func(ctx context.Context) (T, error)
	compensate func(ctx context.Context, result T) error
	timeout    time.Duration
	optional   bool
}

// NewStep declares a step named name running fn. Step names must be
// unique and stable across replays of the same run — they are the memo
// key.
func NewStep[T any](c *Context, name string, fn func(ctx context.Context) (T, error)) *Step[T] {
	return &Step[T]{ctx: c, name: name, fn: fn}
}

// Compensate registers a compensating action run, in LIFO order with
// every other completed step's compensator, if a later step in this run
// fails.
func (s *Step[T]) Compensate(fn func(ctx context.Context, result T) error) *Step[T] {
	s.compensate = fn
	return s
}

// Timeout bounds fn's execution. Exceeding it surfaces as a
// forgeerr.KindTimeout error from Run.
func (s *Step[T]) Timeout(d time.Duration) *Step[T] {
	s.timeout = d
	return s
}

// Optional marks the step's failure as non-fatal: Run records the
// failure and returns a zero value with a nil error instead of
// propagating, so the workflow function continues.
func (s *Step[T]) Optional() *Step[T] {
	s.optional = true
	return s
}

// Run executes the step, or returns its memoized result on replay.
func (s *Step[T]) Run() (T, error) {
	var zero T

	if cached, ok := s.ctx.run.StepResults[s.name]; ok && cached.Status == domain.StepCompleted {
		var v T
		if len(cached.Result) > 0 {
			if err := json.Unmarshal(cached.Result, &v); err != nil {
				return zero, fmt.Errorf("workflow: unmarshal cached result for step %q: %w", s.name, err)
			}
		}
		if s.compensate != nil {
			s.ctx.pushCompensator(s.name, func(ctx context.Context) error { return s.compensate(ctx, v) })
		}
		return v, nil
	}
	if cached, ok := s.ctx.run.StepResults[s.name]; ok && cached.Status == domain.StepSkipped {
		return zero, nil
	}

	s.ctx.run.CurrentStep = s.name
	s.ctx.recordStepStart(s.name)

	runCtx := s.ctx.stdCtx
	cancel := func() {}
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
	}
	defer cancel()

	val, err := s.fn(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			err = forgeerr.Wrap(forgeerr.KindTimeout, fmt.Sprintf("step %q exceeded timeout", s.name), err)
		}
		if s.optional {
			s.ctx.recordStepSkipped(s.name, err)
			return zero, nil
		}
		s.ctx.recordStepFailure(s.name, err)
		return zero, err
	}

	s.ctx.recordStepSuccess(s.name, val)
	if s.compensate != nil {
		s.ctx.pushCompensator(s.name, func(ctx context.Context) error { return s.compensate(ctx, val) })
	}
	return val, nil
}
