// Package worker implements the polling pool and executor (§4.4),
// grounded on the job scheduler this runtime descends from's
// scheduler/worker.go (poll ticker, per-claim goroutine fan-out,
// in-process heartbeat goroutine, retryDelay backoff-with-jitter) and
// scheduler/executor.go, generalized from an HTTP-callback-only executor
// to a Handler registry so jobs dispatch to typed Go functions.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/forgeerr"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
	"github.com/forgehq/forge/internal/shutdown"
)

// Handler executes one job's args and returns its output.
type Handler func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// Registry maps job type to handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds a handler for jobType. Panics on duplicate registration,
// matching the "explicit construction at startup" preference for
// registries (§9) — a duplicate name is a programming error, not a
// runtime condition to recover from.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		panic(fmt.Sprintf("worker: handler already registered for job type %q", jobType))
	}
	r.handlers[jobType] = h
}

func (r *Registry) lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Config controls polling cadence and per-node concurrency.
type Config struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Concurrency       int
	Capabilities      []string
	BaseBackoff       time.Duration
}

// Pool polls for claimable jobs and executes them with bounded
// per-node concurrency.
type Pool struct {
	jobs     repository.JobRepository
	handlers *Registry
	nodeID   string
	cfg      Config
	barrier  *shutdown.Barrier
	logger   *slog.Logger

	sem chan struct{}
}

func NewPool(jobs repository.JobRepository, handlers *Registry, nodeID string, cfg Config, barrier *shutdown.Barrier, logger *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Pool{
		jobs:     jobs,
		handlers: handlers,
		nodeID:   nodeID,
		cfg:      cfg,
		barrier:  barrier,
		logger:   logger,
		sem:      make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls on cfg.PollInterval until ctx is cancelled. It never
// buffers unbounded claims: it only claims as many free slots as it has,
// per the backpressure rule in §5.
func (p *Pool) Run(ctx context.Context) {
	metrics.WorkerStartTime.SetToCurrentTime()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	defer metrics.WorkerShutdownsTotal.Inc()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, &wg)
		}
	}
}

func (p *Pool) poll(ctx context.Context, wg *sync.WaitGroup) {
	if p.barrier != nil && p.barrier.Draining() {
		return
	}

	free := cap(p.sem) - len(p.sem)
	if free <= 0 {
		return
	}

	jobs, err := p.jobs.Claim(ctx, p.nodeID, p.cfg.Capabilities, "", free)
	if err != nil {
		p.logger.Warn("worker: claim failed", "error", err)
		return
	}

	for _, j := range jobs {
		release, admitErr := admit(p.barrier)
		if admitErr != nil {
			continue
		}
		p.sem <- struct{}{}
		wg.Add(1)
		go func(job *domain.Job) {
			defer wg.Done()
			defer func() { <-p.sem }()
			defer release()
			p.run(ctx, job)
		}(j)
	}
}

func admit(b *shutdown.Barrier) (func(), error) {
	if b == nil {
		return func() {}, nil
	}
	return b.Admit()
}

func (p *Pool) run(ctx context.Context, j *domain.Job) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	metrics.JobPickupLatency.Observe(time.Since(j.ScheduledAt).Seconds())

	handler, ok := p.handlers.lookup(j.Type)
	if !ok {
		p.outcome(ctx, j, nil, forgeerr.New(forgeerr.KindNotFound, fmt.Sprintf("no handler registered for job type %q", j.Type)))
		return
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	go p.heartbeatLoop(hbCtx, j.ID)

	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()

	start := time.Now()
	output, err := handler(runCtx, j)
	cancelHB()

	status := "success"
	if err != nil {
		status = "failure"
		if runCtx.Err() != nil {
			err = forgeerr.Wrap(forgeerr.KindTimeout, "job handler exceeded timeout", err)
		}
	}
	metrics.JobExecutionDuration.WithLabelValues(j.Type, status).Observe(time.Since(start).Seconds())

	p.outcome(ctx, j, output, err)
}

func (p *Pool) heartbeatLoop(ctx context.Context, jobID string) {
	interval := p.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.jobs.UpdateHeartbeat(context.Background(), jobID); err != nil {
				p.logger.Warn("worker: heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (p *Pool) outcome(ctx context.Context, j *domain.Job, output json.RawMessage, err error) {
	if err == nil {
		if e := p.jobs.Complete(ctx, j.ID, output); e != nil {
			p.logger.Error("worker: failed to record completion", "job_id", j.ID, "error", e)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues(j.Type, "completed").Inc()
		return
	}

	if j.ExhaustedRetries() {
		if e := p.jobs.DeadLetter(ctx, j.ID, err.Error()); e != nil {
			p.logger.Error("worker: failed to record dead letter", "job_id", j.ID, "error", e)
		}
		metrics.JobsCompletedTotal.WithLabelValues(j.Type, "dead_letter").Inc()
		return
	}

	base := p.cfg.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	delay := j.Backoff.RetryDelay(j.Attempts, base, j.MaxBackoff)
	delay = jitter(delay)
	if e := p.jobs.Retry(ctx, j.ID, err.Error(), time.Now().Add(delay)); e != nil {
		p.logger.Error("worker: failed to record retry", "job_id", j.ID, "error", e)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues(j.Type, "retry").Inc()
}

// jitter applies +/-25% jitter to a backoff delay, matching the job
// scheduler this runtime descends from's retryDelay helper.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}
