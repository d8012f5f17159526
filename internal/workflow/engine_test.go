package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/jobqueue"
	"github.com/forgehq/forge/internal/workflow"
)

// fakeWorkflowRepo is an in-memory stand-in for
// repository.WorkflowRepository, in the style of this runtime's other
// hand-written fakes: plain maps, no mocking framework.
type fakeWorkflowRepo struct {
	mu     sync.Mutex
	runs   map[string]*domain.WorkflowRun
	steps  []*domain.WorkflowStepRecord
	events []*domain.WorkflowEvent
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{runs: map[string]*domain.WorkflowRun{}}
}

func (f *fakeWorkflowRepo) CreateRun(_ context.Context, run *domain.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeWorkflowRepo) GetRun(_ context.Context, runID string) (*domain.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, domain.ErrWorkflowRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeWorkflowRepo) SaveRun(_ context.Context, run *domain.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeWorkflowRepo) UpsertStep(_ context.Context, step *domain.WorkflowStepRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = append(f.steps, step)
	return nil
}

func (f *fakeWorkflowRepo) DueToWake(_ context.Context, limit int) ([]*domain.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.WorkflowRun
	now := time.Now()
	for _, run := range f.runs {
		if run.Status != domain.WorkflowWaiting {
			continue
		}
		woken := run.WakeAt != nil && !now.Before(*run.WakeAt)
		if !woken && run.WaitingEvent != "" {
			for _, ev := range f.events {
				if ev.EventName == run.WaitingEvent && ev.CorrelationID == run.ID && ev.ConsumedAt == nil {
					woken = true
					break
				}
			}
		}
		if woken {
			cp := *run
			out = append(out, &cp)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeWorkflowRepo) PublishEvent(_ context.Context, ev *domain.WorkflowEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeWorkflowRepo) ConsumeEvent(_ context.Context, eventName, correlationID, consumerRunID string) (*domain.WorkflowEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.EventName == eventName && ev.CorrelationID == correlationID && ev.ConsumedAt == nil {
			now := time.Now()
			ev.ConsumedAt = &now
			ev.ConsumedBy = consumerRunID
			return ev, nil
		}
	}
	return nil, nil
}

type fakeJobRepo struct{ jobs map[string]*domain.Job }

func newFakeJobRepo() *fakeJobRepo { return &fakeJobRepo{jobs: map[string]*domain.Job{}} }

func (f *fakeJobRepo) Enqueue(_ context.Context, j *domain.Job) (*domain.Job, error) {
	f.jobs[j.ID] = j
	return j, nil
}
func (f *fakeJobRepo) Claim(context.Context, string, []string, string, int) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) UpdateHeartbeat(context.Context, string) error          { return nil }
func (f *fakeJobRepo) Complete(context.Context, string, []byte) error        { return nil }
func (f *fakeJobRepo) Retry(context.Context, string, string, time.Time) error { return nil }
func (f *fakeJobRepo) Fail(context.Context, string, string) error             { return nil }
func (f *fakeJobRepo) DeadLetter(context.Context, string, string) error       { return nil }
func (f *fakeJobRepo) RecoverStuck(context.Context, time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeJobRepo) Get(_ context.Context, id string) (*domain.Job, error) { return f.jobs[id], nil }
func (f *fakeJobRepo) List(context.Context, domain.JobStatus, string, int) ([]*domain.Job, string, error) {
	return nil, "", nil
}

func TestEngine_LinearWorkflowCompletes(t *testing.T) {
	repo := newFakeWorkflowRepo()
	queue := jobqueue.New(newFakeJobRepo())
	registry := workflow.NewRegistry()
	registry.Register("greet", 1, func(ctx *workflow.Context, input json.RawMessage) (json.RawMessage, error) {
		var name string
		_ = json.Unmarshal(input, &name)
		greeting, err := workflow.NewStep[string](ctx, "build_greeting", func(context.Context) (string, error) {
			return "hello, " + name, nil
		}).Run()
		if err != nil {
			return nil, err
		}
		return json.Marshal(greeting)
	})

	engine := workflow.NewEngine(registry, repo, queue, discardLogger())
	run, err := engine.Start(context.Background(), "greet", "ada")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stored, _ := repo.GetRun(context.Background(), run.ID)
	if stored.Status != domain.WorkflowCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	var out string
	if err := json.Unmarshal(stored.OutputJSON, &out); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if out != "hello, ada" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEngine_SleepSuspendsThenResumes(t *testing.T) {
	repo := newFakeWorkflowRepo()
	queue := jobqueue.New(newFakeJobRepo())
	registry := workflow.NewRegistry()
	registry.Register("delayed", 1, func(ctx *workflow.Context, input json.RawMessage) (json.RawMessage, error) {
		if err := ctx.Sleep(10 * time.Millisecond); err != nil {
			return nil, err
		}
		return json.Marshal("done")
	})

	engine := workflow.NewEngine(registry, repo, queue, discardLogger())
	run, err := engine.Start(context.Background(), "delayed", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stored, _ := repo.GetRun(context.Background(), run.ID)
	if stored.Status != domain.WorkflowWaiting {
		t.Fatalf("expected waiting, got %s", stored.Status)
	}

	time.Sleep(15 * time.Millisecond)
	if err := engine.ResumeDue(context.Background(), 10); err != nil {
		t.Fatalf("resume: %v", err)
	}

	stored, _ = repo.GetRun(context.Background(), run.ID)
	if stored.Status != domain.WorkflowCompleted {
		t.Fatalf("expected completed after resume, got %s", stored.Status)
	}
}

func TestEngine_FailureTriggersCompensation(t *testing.T) {
	repo := newFakeWorkflowRepo()
	queue := jobqueue.New(newFakeJobRepo())
	registry := workflow.NewRegistry()

	var compensated bool
	registry.Register("booking", 1, func(ctx *workflow.Context, input json.RawMessage) (json.RawMessage, error) {
		_, err := workflow.NewStep[string](ctx, "reserve_room", func(context.Context) (string, error) {
			return "room-1", nil
		}).Compensate(func(context.Context, string) error {
			compensated = true
			return nil
		}).Run()
		if err != nil {
			return nil, err
		}

		_, err = workflow.NewStep[string](ctx, "charge_card", func(context.Context) (string, error) {
			return "", errors.New("card declined")
		}).Run()
		return nil, err
	})

	engine := workflow.NewEngine(registry, repo, queue, discardLogger())
	run, err := engine.Start(context.Background(), "booking", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stored, _ := repo.GetRun(context.Background(), run.ID)
	if stored.Status != domain.WorkflowCompensated {
		t.Fatalf("expected compensated, got %s", stored.Status)
	}
	if !compensated {
		t.Fatal("expected reserve_room compensator to run")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
