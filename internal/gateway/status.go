package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

const jobCountSampleLimit = 1000

var statusRoles = []domain.Role{domain.RoleScheduler, domain.RoleMetricsAggregator, domain.RoleLogCompactor}

type nodeStatus struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Roles         []string `json:"roles"`
	LastHeartbeat string `json:"last_heartbeat"`
}

type leaderStatus struct {
	Role       string `json:"role"`
	HolderNode string `json:"holder_node"`
	LeaseUntil string `json:"lease_until"`
}

type statusResponse struct {
	Nodes    []nodeStatus   `json:"nodes"`
	Leaders  []leaderStatus `json:"leaders"`
	JobCounts map[string]int `json:"job_counts"`
}

// StatusHandler implements the small GET /forge/status summary surface
// SPEC_FULL.md's dashboard-API item describes: a read-only roll-up of
// nodes, leaders, and approximate job counts by status, grounded on
// dashboard/api.rs's NodeInfo/ClusterHealth/JobStats shapes but
// collapsed to one endpoint since this runtime has no dashboard UI of
// its own to serve yet.
func StatusHandler(nodes repository.NodeRepository, leaders repository.LeaderRepository, jobs repository.JobRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		resp := statusResponse{JobCounts: map[string]int{}}

		nodeList, err := nodes.List(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, n := range nodeList {
			resp.Nodes = append(resp.Nodes, nodeStatus{
				ID: n.ID, Status: string(n.Status), Roles: n.Roles,
				LastHeartbeat: n.LastHeartbeat.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}

		for _, role := range statusRoles {
			lease, err := leaders.Get(ctx, role)
			if errors.Is(err, domain.ErrLeaseNotHeld) {
				continue
			}
			if err != nil {
				continue
			}
			resp.Leaders = append(resp.Leaders, leaderStatus{
				Role: string(role), HolderNode: lease.HolderNode,
				LeaseUntil: lease.LeaseUntil.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}

		for _, status := range []domain.JobStatus{domain.JobPending, domain.JobClaimed, domain.JobRunning, domain.JobRetry, domain.JobDeadLetter} {
			resp.JobCounts[string(status)] = countJobs(ctx, jobs, status)
		}

		c.JSON(http.StatusOK, resp)
	}
}

// countJobs approximates a count via one bounded List call. A real
// aggregate would be a dedicated SQL COUNT query; this endpoint is
// explicitly a stopgap for a dashboard that does not exist yet
// (SPEC_FULL.md's dashboard-API note), so an approximate, bounded count
// is an acceptable trade against adding a new repository method for a
// surface with no consumer.
func countJobs(ctx context.Context, jobs repository.JobRepository, status domain.JobStatus) int {
	results, _, err := jobs.List(ctx, status, "", jobCountSampleLimit)
	if err != nil {
		return 0
	}
	return len(results)
}
