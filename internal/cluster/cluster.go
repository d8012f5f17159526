// Package cluster implements node registration, heartbeating, and
// dead-node marking (§4.1), grounded on the job scheduler this runtime
// descends from's reaper/worker ticker-loop shape and on
// original_source's cluster/heartbeat.rs for the load-metrics update and
// dead-node marking query shape.
package cluster

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/repository"
)

// Config is the timing contract for heartbeat and dead-marking.
// HeartbeatInterval should be <= DeadThreshold/3 per §4.1.
type Config struct {
	HeartbeatInterval time.Duration
	DeadThreshold     time.Duration
}

// LoadSampler reports current load for this node's heartbeat. A real
// implementation wires it to the worker pool's in-flight count and a
// runtime CPU/memory sampler; tests may supply a fixed fake.
type LoadSampler func() repository.NodeLoad

// Registry owns this node's row and the periodic heartbeat/dead-marking
// loop.
type Registry struct {
	nodes  repository.NodeRepository
	cfg    Config
	node   *domain.Node
	sample LoadSampler
	logger *slog.Logger
}

func NewRegistry(nodes repository.NodeRepository, cfg Config, node *domain.Node, sample LoadSampler, logger *slog.Logger) *Registry {
	if sample == nil {
		sample = DefaultLoadSampler()
	}
	return &Registry{nodes: nodes, cfg: cfg, node: node, sample: sample, logger: logger}
}

// Join upserts the node row as active. The source's state machine
// prescribes an immediate joining->active transition rather than a
// separate announcement step.
func (reg *Registry) Join(ctx context.Context) error {
	reg.node.Status = domain.NodeJoining
	if err := reg.nodes.Upsert(ctx, reg.node); err != nil {
		return err
	}
	reg.node.Status = domain.NodeActive
	return reg.nodes.Upsert(ctx, reg.node)
}

// Drain transitions the node to draining, the second step of the
// graceful shutdown sequence (§4.3).
func (reg *Registry) Drain(ctx context.Context) error {
	return reg.nodes.MarkDraining(ctx, reg.node.ID)
}

// Leave deletes the node row, the final step of graceful shutdown.
func (reg *Registry) Leave(ctx context.Context) error {
	return reg.nodes.Delete(ctx, reg.node.ID)
}

// Run drives the heartbeat + dead-marking loop until ctx is cancelled.
// Failures are logged and retried on the next tick; they are never
// fatal, per §4.1.
func (reg *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(reg.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.tick(ctx)
		}
	}
}

func (reg *Registry) tick(ctx context.Context) {
	load := reg.sample()
	if err := reg.nodes.UpdateHeartbeat(ctx, reg.node.ID, load); err != nil {
		reg.logger.Warn("cluster: heartbeat update failed", "error", err)
	}

	dead, err := reg.nodes.MarkDeadStale(ctx, reg.cfg.DeadThreshold)
	if err != nil {
		reg.logger.Warn("cluster: dead-node marking failed", "error", err)
		return
	}
	if dead > 0 {
		metrics.ClusterDeadMarkedTotal.Add(float64(dead))
		reg.logger.Info("cluster: marked dead nodes", "count", dead)
	}

	if nodes, err := reg.nodes.List(ctx); err == nil {
		active := 0
		for _, n := range nodes {
			if n.Status == domain.NodeActive {
				active++
			}
		}
		metrics.ClusterNodesActive.Set(float64(active))
	}
}

// DefaultLoadSampler reports goroutine count as a stand-in for
// current_jobs and a coarse memory figure; callers with a worker pool
// should supply a LoadSampler that reports its real in-flight count
// instead.
func DefaultLoadSampler() LoadSampler {
	return func() repository.NodeLoad {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return repository.NodeLoad{
			CurrentConnections: 0,
			CurrentJobs:        runtime.NumGoroutine(),
			CPUUsage:           0,
			MemoryUsage:        float64(mem.Alloc) / (1024 * 1024),
		}
	}
}
