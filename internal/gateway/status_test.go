package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/gateway"
	"github.com/forgehq/forge/internal/repository"
)

type fakeNodeRepo struct{ nodes []*domain.Node }

func (f *fakeNodeRepo) Upsert(ctx context.Context, n *domain.Node) error { return nil }
func (f *fakeNodeRepo) UpdateHeartbeat(ctx context.Context, nodeID string, load repository.NodeLoad) error {
	return nil
}
func (f *fakeNodeRepo) MarkDraining(ctx context.Context, nodeID string) error { return nil }
func (f *fakeNodeRepo) MarkDeadStale(ctx context.Context, deadThreshold time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeNodeRepo) Delete(ctx context.Context, nodeID string) error { return nil }
func (f *fakeNodeRepo) List(ctx context.Context) ([]*domain.Node, error) {
	return f.nodes, nil
}
func (f *fakeNodeRepo) Get(ctx context.Context, nodeID string) (*domain.Node, error) {
	for _, n := range f.nodes {
		if n.ID == nodeID {
			return n, nil
		}
	}
	return nil, domain.ErrNodeNotFound
}

type fakeLeaderRepo struct{ leases map[domain.Role]*domain.LeaderLease }

func (f *fakeLeaderRepo) WriteLease(ctx context.Context, lease *domain.LeaderLease) error { return nil }
func (f *fakeLeaderRepo) ExtendLease(ctx context.Context, role domain.Role, holderNode string, newUntil time.Time) (bool, error) {
	return true, nil
}
func (f *fakeLeaderRepo) ExpireLease(ctx context.Context, role domain.Role, holderNode string) error {
	return nil
}
func (f *fakeLeaderRepo) Get(ctx context.Context, role domain.Role) (*domain.LeaderLease, error) {
	if l, ok := f.leases[role]; ok {
		return l, nil
	}
	return nil, domain.ErrLeaseNotHeld
}

type fakeJobRepo struct{ counts map[domain.JobStatus]int }

func (f *fakeJobRepo) Enqueue(ctx context.Context, j *domain.Job) (*domain.Job, error) { return j, nil }
func (f *fakeJobRepo) Claim(ctx context.Context, nodeID string, capabilities []string, jobType string, limit int) ([]*domain.Job, error) {
	return nil, nil
}
func (f *fakeJobRepo) UpdateHeartbeat(ctx context.Context, jobID string) error { return nil }
func (f *fakeJobRepo) Complete(ctx context.Context, jobID string, output []byte) error { return nil }
func (f *fakeJobRepo) Retry(ctx context.Context, jobID string, errMsg string, scheduledAt time.Time) error {
	return nil
}
func (f *fakeJobRepo) Fail(ctx context.Context, jobID string, errMsg string) error      { return nil }
func (f *fakeJobRepo) DeadLetter(ctx context.Context, jobID string, errMsg string) error { return nil }
func (f *fakeJobRepo) RecoverStuck(ctx context.Context, stuckThreshold time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeJobRepo) Get(ctx context.Context, jobID string) (*domain.Job, error) { return nil, nil }
func (f *fakeJobRepo) List(ctx context.Context, status domain.JobStatus, cursor string, limit int) ([]*domain.Job, string, error) {
	n := f.counts[status]
	jobs := make([]*domain.Job, n)
	for i := range jobs {
		jobs[i] = &domain.Job{Status: status}
	}
	return jobs, "", nil
}

func TestStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	nodes := &fakeNodeRepo{nodes: []*domain.Node{{ID: "node-1", Status: domain.NodeActive, Roles: []string{"scheduler"}}}}
	leaders := &fakeLeaderRepo{leases: map[domain.Role]*domain.LeaderLease{
		domain.RoleScheduler: {Role: domain.RoleScheduler, HolderNode: "node-1", LeaseUntil: time.Now().Add(time.Minute)},
	}}
	jobs := &fakeJobRepo{counts: map[domain.JobStatus]int{domain.JobPending: 3, domain.JobRunning: 1}}

	r := gin.New()
	r.GET("/forge/status", gateway.StatusHandler(nodes, leaders, jobs))

	req := httptest.NewRequest(http.MethodGet, "/forge/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
