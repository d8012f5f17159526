package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker / job queue metrics

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job creation to worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	JobExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "job_execution_duration_seconds",
		Help:      "Duration of job handler execution.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"type", "status"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "forge",
		Name:      "worker_jobs_in_flight",
		Help:      "Number of jobs currently being executed by this node's worker pool.",
	})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by type and outcome.",
	}, []string{"type", "outcome"})

	StuckClaimRecoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "stuck_claim_recovered_total",
		Help:      "Total claimed/running jobs moved back to retry by stuck-claim recovery.",
	}, []string{"action"})

	StuckClaimCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "stuck_claim_cycle_duration_seconds",
		Help:      "Time taken for one stuck-claim recovery cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "forge",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when this node's worker pool started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times this node's worker pool has shut down.",
	})

	// Cluster / leader metrics

	ClusterNodesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "forge",
		Name:      "cluster_nodes_active",
		Help:      "Nodes observed in active status as of the last heartbeat tick.",
	})

	ClusterDeadMarkedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "cluster_dead_marked_total",
		Help:      "Total node rows transitioned active->dead by this node's heartbeat loop.",
	})

	LeaderHeld = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "forge",
		Name:      "leader_held",
		Help:      "1 if this node currently holds the lease for the role, 0 otherwise.",
	}, []string{"role"})

	LeaderAcquisitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "leader_acquisitions_total",
		Help:      "Total successful lease acquisitions by role.",
	}, []string{"role"})

	// Cron metrics

	CronRunsPlannedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "cron_runs_planned_total",
		Help:      "Total cron-run rows planned, by cron name and catch-up status.",
	}, []string{"cron_name", "catch_up"})

	CronCatchUpSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "cron_catch_up_skipped_total",
		Help:      "Total missed occurrences beyond catch_up_limit that were dropped.",
	}, []string{"cron_name"})

	// Workflow metrics

	WorkflowRunsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "workflow_runs_started_total",
		Help:      "Total workflow runs started, by name.",
	}, []string{"name"})

	WorkflowRunsFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "workflow_runs_finished_total",
		Help:      "Total workflow runs reaching a terminal status.",
	}, []string{"name", "status"})

	WorkflowStepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "workflow_step_duration_seconds",
		Help:      "Duration of non-memoized step executions.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"workflow", "step"})

	// Rate limiter metrics

	RateLimitDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "rate_limit_decisions_total",
		Help:      "Total rate limit checks, by key type and decision.",
	}, []string{"key_type", "decision"})

	// Realtime metrics

	RealtimeSubscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "forge",
		Name:      "realtime_subscriptions_active",
		Help:      "Subscriptions currently registered on this node.",
	})

	RealtimeBroadcastDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "realtime_broadcast_dropped_total",
		Help:      "Change notifications dropped because the broadcast buffer was full.",
	})

	// Gateway (HTTP) metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "forge",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})

	RPCCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forge",
		Name:      "rpc_calls_total",
		Help:      "Total router function calls, by kind and outcome code.",
	}, []string{"kind", "code"})
)

func Register() {
	prometheus.MustRegister(
		JobPickupLatency,
		JobExecutionDuration,
		JobsInFlight,
		JobsCompletedTotal,
		StuckClaimRecoveredTotal,
		StuckClaimCycleDuration,
		WorkerStartTime,
		WorkerShutdownsTotal,
		ClusterNodesActive,
		ClusterDeadMarkedTotal,
		LeaderHeld,
		LeaderAcquisitionsTotal,
		CronRunsPlannedTotal,
		CronCatchUpSkippedTotal,
		WorkflowRunsStartedTotal,
		WorkflowRunsFinishedTotal,
		WorkflowStepDuration,
		RateLimitDecisionsTotal,
		RealtimeSubscriptionsActive,
		RealtimeBroadcastDroppedTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		RPCCallsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
