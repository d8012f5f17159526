package cron

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/jobqueue"
)

// fakeCronRepo is an in-memory stand-in for repository.CronRepository
// that records every planned run, keyed by (cron_name, scheduled_time)
// the way the real table's unique constraint would.
type fakeCronRepo struct {
	mu          sync.Mutex
	planned     []*domain.CronRun
	seen        map[string]bool
	lastPlanned time.Time
	lastSuccess time.Time
	hasSuccess  bool
}

func newFakeCronRepo() *fakeCronRepo {
	return &fakeCronRepo{seen: map[string]bool{}}
}

func (f *fakeCronRepo) PlanRun(_ context.Context, run *domain.CronRun) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := run.CronName + "|" + run.ScheduledTime.UTC().String()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	f.planned = append(f.planned, run)
	return true, nil
}

func (f *fakeCronRepo) LastPlanned(context.Context, string) (time.Time, error) {
	return f.lastPlanned, nil
}

func (f *fakeCronRepo) LastSuccess(context.Context, string) (time.Time, bool, error) {
	return f.lastSuccess, f.hasSuccess, nil
}

func (f *fakeCronRepo) MarkRunning(context.Context, string, string) error { return nil }

func (f *fakeCronRepo) MarkOutcome(context.Context, string, domain.CronRunStatus) error { return nil }

// fakeJobRepo only implements the sliver of repository.JobRepository
// that jobqueue.Queue.Enqueue exercises in these tests.
type fakeJobRepo struct{}

func (fakeJobRepo) Enqueue(_ context.Context, j *domain.Job) (*domain.Job, error) {
	j.ID = uuid.NewString()
	return j, nil
}
func (fakeJobRepo) Claim(context.Context, string, []string, string, int) ([]*domain.Job, error) {
	return nil, nil
}
func (fakeJobRepo) UpdateHeartbeat(context.Context, string) error                { return nil }
func (fakeJobRepo) Complete(context.Context, string, []byte) error              { return nil }
func (fakeJobRepo) Retry(context.Context, string, string, time.Time) error      { return nil }
func (fakeJobRepo) Fail(context.Context, string, string) error                  { return nil }
func (fakeJobRepo) DeadLetter(context.Context, string, string) error            { return nil }
func (fakeJobRepo) RecoverStuck(context.Context, time.Duration) (int64, error)  { return 0, nil }
func (fakeJobRepo) Get(context.Context, string) (*domain.Job, error)            { return nil, nil }
func (fakeJobRepo) List(context.Context, domain.JobStatus, string, int) ([]*domain.Job, string, error) {
	return nil, "", nil
}

func newTestRunner(crons *fakeCronRepo) *Runner {
	queue := jobqueue.New(fakeJobRepo{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(NewRegistry(), crons, fakeJobRepo{}, queue, nil, nil, Config{}, logger)
}

// nightlyDef mirrors S2: midnight UTC, daily, catch-up capped at 5.
func nightlyDef() domain.CronDefinition {
	return domain.CronDefinition{
		Name: "nightly", Expression: "0 0 0 * * *", Timezone: "UTC",
		CatchUp: true, CatchUpLimit: 5, Enabled: true,
	}
}

// TestPlanCron_OnlyPlansSingleNextOccurrence guards against the bug where
// a fresh cron (LastPlanned at the zero/epoch value) backfilled one row
// per missed occurrence since epoch. §4.5 items 1-2: only the single
// next due occurrence is planned outside of catch-up.
func TestPlanCron_OnlyPlansSingleNextOccurrence(t *testing.T) {
	def := domain.CronDefinition{
		Name: "nightly", Expression: "0 0 0 * * *", Timezone: "UTC",
		CatchUp: false, Enabled: true,
	}
	crons := newFakeCronRepo()
	crons.lastPlanned = time.Unix(0, 0).UTC() // epoch: never planned before
	r := newTestRunner(crons)

	if err := r.planCron(context.Background(), def); err != nil {
		t.Fatalf("planCron: %v", err)
	}
	if len(crons.planned) != 1 {
		t.Fatalf("planned %d rows, want exactly 1", len(crons.planned))
	}
	if crons.planned[0].IsCatchUp {
		t.Fatalf("single planned row should not be marked catch-up")
	}
}

// TestCatchUp_KeepsMostRecentMissed is S2: an 11-day outage with
// catch_up_limit=5 must plan exactly the 5 most recent missed
// midnights, not the 5 earliest.
func TestCatchUp_KeepsMostRecentMissed(t *testing.T) {
	def := nightlyDef()
	sched, err := Schedule(def)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) // midnight, aligned with the schedule
	lastSuccess := now.AddDate(0, 0, -11)                // 11 midnights missed through now, inclusive

	crons := newFakeCronRepo()
	crons.lastPlanned = lastSuccess
	crons.lastSuccess = lastSuccess
	crons.hasSuccess = true
	r := newTestRunner(crons)

	if err := r.catchUp(context.Background(), def, sched, now); err != nil {
		t.Fatalf("catchUp: %v", err)
	}

	if len(crons.planned) != 5 {
		t.Fatalf("planned %d catch-up rows, want exactly 5", len(crons.planned))
	}

	wantFirst := now.AddDate(0, 0, -4) // the 5 most recent missed midnights: now-4 .. now
	if !crons.planned[0].ScheduledTime.Equal(wantFirst) {
		t.Fatalf("earliest retained occurrence = %v, want %v (the 5 most recent, not the 5 earliest)",
			crons.planned[0].ScheduledTime, wantFirst)
	}
	for _, run := range crons.planned {
		if !run.IsCatchUp {
			t.Fatalf("catch-up run %v not marked is_catch_up", run.ScheduledTime)
		}
	}
}
