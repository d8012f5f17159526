package domain

import (
	"errors"
	"time"
)

var ErrNodeNotFound = errors.New("node not found")

// NodeStatus is the cluster membership state machine: joining -> active ->
// draining -> (deregistered), with any non-terminal status settable to dead
// by the dead-node marker.
type NodeStatus string

const (
	NodeJoining  NodeStatus = "joining"
	NodeActive   NodeStatus = "active"
	NodeDraining NodeStatus = "draining"
	NodeDead     NodeStatus = "dead"
)

// Role is a capability a node advertises for leader election and job
// capability matching — distinct concepts that happen to share a string set
// in small deployments (e.g. "scheduler").
type Role string

const (
	RoleScheduler        Role = "scheduler"
	RoleMetricsAggregator Role = "metrics_aggregator"
	RoleLogCompactor     Role = "log_compactor"
)

// Node is a single process in the cluster.
type Node struct {
	ID            string
	Hostname      string
	Address       string
	HTTPPort      int
	RPCPort       int
	Roles         []string
	Capabilities  []string
	Status        NodeStatus
	LastHeartbeat time.Time
	StartedAt     time.Time

	CurrentConnections int
	CurrentJobs        int
	CPUUsage           float64
	MemoryUsage        float64
}

// HasRole reports whether the node advertises the given role.
func (n *Node) HasRole(role Role) bool {
	for _, r := range n.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// HasCapability reports whether the node can run jobs requiring capability c.
func (n *Node) HasCapability(c string) bool {
	if c == "" {
		return true
	}
	for _, have := range n.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
