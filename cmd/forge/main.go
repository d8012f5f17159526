// Command forge runs a single FORGE node: the RPC/WebSocket gateway, the
// worker pool, the scheduler-leader loops (cron, stuck-claim recovery,
// workflow resume), the cluster heartbeat, the change listener, and the
// observability flush — every independent loop §2 describes, gated
// where the spec says to gate them, all in one process the way the job
// scheduler this runtime descends from splits "server" and "scheduler"
// into two binaries but this runtime's roles[] config makes a property
// of one binary instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgehq/forge/config"
	"github.com/forgehq/forge/internal/cluster"
	"github.com/forgehq/forge/internal/cron"
	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/email"
	"github.com/forgehq/forge/internal/gateway"
	"github.com/forgehq/forge/internal/health"
	"github.com/forgehq/forge/internal/infrastructure/postgres"
	"github.com/forgehq/forge/internal/jobqueue"
	"github.com/forgehq/forge/internal/leader"
	ctxlog "github.com/forgehq/forge/internal/log"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/migrations"
	"github.com/forgehq/forge/internal/observability"
	"github.com/forgehq/forge/internal/ratelimit"
	"github.com/forgehq/forge/internal/realtime"
	"github.com/forgehq/forge/internal/router"
	"github.com/forgehq/forge/internal/shutdown"
	"github.com/forgehq/forge/internal/worker"
	"github.com/forgehq/forge/internal/workflow"
)

var leaderRoles = []domain.Role{domain.RoleScheduler, domain.RoleMetricsAggregator, domain.RoleLogCompactor}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	obsCfg := observability.Config{
		FlushInterval:  time.Duration(cfg.Observability.FlushIntervalSec) * time.Second,
		BatchSize:      cfg.Observability.BatchSize,
		TracingEnabled: cfg.Observability.TracingEnabled,
	}
	collector := observability.NewCollector(nodeID, obsCfg)
	logger := newLogger(cfg.Env, cfg.SlogLevel(), collector)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	migrationRunner := migrations.NewRunner(pool, postgres.NewMigrationRepo(pool), logger)
	if err := migrationRunner.Up(ctx, nil); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	metrics.Register()
	checker := health.NewChecker(pool, logger, prometheus.DefaultRegisterer)

	// Repositories.
	nodeRepo := postgres.NewNodeRepo(pool)
	leaderRepo := postgres.NewLeaderRepo(pool)
	jobRepo := postgres.NewJobRepo(pool)
	cronRepo := postgres.NewCronRepo(pool)
	workflowRepo := postgres.NewWorkflowRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)
	rateLimitRepo := postgres.NewRateLimitRepo(pool)
	obsRepo := postgres.NewObservabilityRepo(pool)

	hostname, _ := os.Hostname()
	node := &domain.Node{
		ID:           nodeID,
		Hostname:     hostname,
		Address:      cfg.Cluster.Address,
		HTTPPort:     cfg.Cluster.HTTPPort,
		RPCPort:      cfg.Cluster.RPCPort,
		Roles:        cfg.Cluster.Roles,
		Capabilities: cfg.Cluster.Capabilities,
		StartedAt:    time.Now(),
	}

	barrier := shutdown.New()

	clusterCfg := cluster.Config{
		HeartbeatInterval: time.Duration(cfg.Cluster.HeartbeatIntervalSec) * time.Second,
		DeadThreshold:     time.Duration(cfg.Cluster.DeadThresholdSec) * time.Second,
	}
	registry := cluster.NewRegistry(nodeRepo, clusterCfg, node, nil, logger)
	if err := registry.Join(ctx); err != nil {
		log.Fatalf("cluster: join: %v", err)
	}
	logger.Info("cluster: joined", "node_id", nodeID, "roles", node.Roles)

	leaseDur := time.Duration(cfg.Cluster.LeaseDurationSec) * time.Second
	electors := make(map[domain.Role]*leader.Elector, len(leaderRoles))
	for _, role := range leaderRoles {
		e := leader.NewElector(pool, leaderRepo, role, nodeID, leaseDur, logger)
		electors[role] = e
		go e.Run(ctx)
	}

	// Job queue, worker pool, and the built-in email_send action/job
	// handler wired as a concrete domain smoke-test of the job kind
	// against a real third-party dep.
	queue := jobqueue.New(jobRepo)
	jobHandlers := worker.NewRegistry()
	sender := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	jobHandlers.Register("email_send", emailSendHandler(sender))

	workerCfg := worker.Config{
		PollInterval:      time.Duration(cfg.Cluster.PollIntervalSec) * time.Second,
		HeartbeatInterval: 5 * time.Second,
		Concurrency:       cfg.Cluster.WorkerCount,
		Capabilities:      cfg.Cluster.Capabilities,
		BaseBackoff:       time.Second,
	}
	workerPool := worker.NewPool(jobRepo, jobHandlers, nodeID, workerCfg, barrier, logger)
	go workerPool.Run(ctx)

	// Workflow engine.
	workflowRegistry := workflow.NewRegistry()
	wfEngine := workflow.NewEngine(workflowRegistry, workflowRepo, queue, logger)

	// Cron registry + the scheduler-leader-gated runner (cron triggering,
	// stuck-claim recovery, workflow resume — §9's open questions both
	// decided in favor of the scheduler leader).
	cronRegistry := cron.NewRegistry()
	cronCfg := cron.Config{
		TickInterval:   time.Duration(cfg.Cluster.CronTickIntervalSec) * time.Second,
		StuckThreshold: time.Duration(cfg.Cluster.StuckThresholdSec) * time.Second,
		ResumeBatch:    50,
	}
	cronRunner := cron.NewRunner(cronRegistry, cronRepo, jobRepo, queue, wfEngine, electors[domain.RoleScheduler], cronCfg, logger)
	go cronRunner.Run(ctx)

	// Realtime change listener + WebSocket hub.
	hub := realtime.NewHub(sessionRepo, logger)
	listener := realtime.NewListener(pool, hub, logger)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime: listener exited", "error", err)
		}
	}()

	// Observability bridge: drains the collector every node feeds
	// (including the log handler above) into the durable tables.
	bridge := observability.NewBridge(collector, obsRepo, obsCfg, logger)
	go bridge.Run(ctx)

	// Function router.
	rateLimiter := ratelimit.New(rateLimitRepo)
	funcRegistry := router.NewRegistry()
	registerBuiltinFunctions(funcRegistry, queue, wfEngine, checker)
	queryCache := router.NewQueryCache(1000)
	rt := router.New(funcRegistry, queryCache, rateLimiter, pool, http.DefaultClient)

	var verifier gateway.Verifier
	if cfg.Gateway.JWKSURL != "" {
		verifier = gateway.NewJWKSVerifier(cfg.Gateway.JWKSURL)
	} else if cfg.JWTSecret != "" {
		verifier = gateway.NewHMACVerifier([]byte(cfg.JWTSecret), cfg.JWTAlgorithm)
	}

	engine := gateway.NewEngine(gateway.Deps{
		Router:         rt,
		Hub:            hub,
		Verifier:       verifier,
		Sessions:       sessionRepo,
		Nodes:          nodeRepo,
		Leaders:        leaderRepo,
		Jobs:           jobRepo,
		NodeID:         nodeID,
		Logger:         logger,
		SpanCollector:  collector,
		TracingEnabled: obsCfg.TracingEnabled,
		Barrier:        barrier,
	})

	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Cluster.HTTPPort), Handler: engine}
	go func() {
		logger.Info("gateway: listening", "port", cfg.Cluster.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway: server error", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics: listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics: server error", "error", err)
		}
	}()

	go registry.Run(ctx)

	<-ctx.Done()
	stop()
	logger.Info("shutdown: signal received, draining")

	// §4.3 shutdown sequence.
	if err := registry.Drain(context.Background()); err != nil {
		logger.Warn("shutdown: mark draining failed", "error", err)
	}
	drainTimeout := time.Duration(cfg.Cluster.DrainTimeoutSec) * time.Second
	if ok := barrier.Drain(context.Background(), drainTimeout); !ok {
		logger.Warn("shutdown: drain timeout elapsed with in-flight work remaining", "in_flight", barrier.InFlight())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway: shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics: shutdown failed", "error", err)
	}

	// Each elector releases its own lease when Run's context is cancelled.
	if err := registry.Leave(shutdownCtx); err != nil {
		logger.Error("shutdown: leave failed", "error", err)
	}

	logger.Info("shutdown: complete")
}

// emailSendHandler adapts email.Sender into a worker.Handler: args are
// {"to","subject","body"}, output is {"sent":true} on success. This is the
// built-in job-kind smoke test named in SPEC_FULL.md's domain stack.
func emailSendHandler(sender email.Sender) worker.Handler {
	type args struct {
		To      string `json:"to"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	return func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		var a args
		if err := json.Unmarshal(job.ArgsJSON, &a); err != nil {
			return nil, fmt.Errorf("email_send: decode args: %w", err)
		}
		if err := sender.Send(ctx, a.To, a.Subject, a.Body); err != nil {
			return nil, fmt.Errorf("email_send: %w", err)
		}
		return json.RawMessage(`{"sent":true}`), nil
	}
}

// registerBuiltinFunctions wires the RPC surface's own self-checks: a
// public health query and an authenticated action that enqueues an
// email_send job, giving every function kind (query, action, job) at
// least one concrete caller-reachable path.
func registerBuiltinFunctions(reg *router.Registry, queue *jobqueue.Queue, wfEngine *workflow.Engine, checker *health.Checker) {
	reg.RegisterQuery("forge.health", router.Meta{IsPublic: true}, func(qc *router.QueryContext) (json.RawMessage, error) {
		result := checker.Readiness(qc.Ctx)
		return json.Marshal(result)
	})

	reg.RegisterAction("forge.send_email", router.Meta{RequiresAuth: true}, func(ac *router.ActionContext) (json.RawMessage, error) {
		var args struct {
			To      string `json:"to"`
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal(ac.Args, &args); err != nil {
			return nil, err
		}
		job, err := queue.Enqueue(ac.Ctx, jobqueue.EnqueueRequest{
			Type: "email_send", Args: args, Priority: 50, MaxAttempts: 3,
			Backoff: domain.BackoffExponential, BaseBackoff: time.Second, MaxBackoff: 60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"job_id": job.ID})
	})
}

func newLogger(env string, level slog.Level, collector ctxlog.Collector) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	handler := ctxlog.NewContextHandler(inner)
	if collector != nil {
		handler = handler.WithCollector(collector)
	}
	return slog.New(handler)
}
