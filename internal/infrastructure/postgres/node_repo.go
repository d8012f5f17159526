package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type NodeRepo struct {
	pool *pgxpool.Pool
}

func NewNodeRepo(pool *pgxpool.Pool) *NodeRepo {
	return &NodeRepo{pool: pool}
}

var _ repository.NodeRepository = (*NodeRepo)(nil)

// Upsert writes the node's own row. A node's writes to its own row always
// use its id, per §3's ownership invariant.
func (r *NodeRepo) Upsert(ctx context.Context, n *domain.Node) error {
	const q = `
		INSERT INTO forge_nodes (id, hostname, address, http_port, rpc_port, roles, capabilities, status, last_heartbeat, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			address = EXCLUDED.address,
			http_port = EXCLUDED.http_port,
			rpc_port = EXCLUDED.rpc_port,
			roles = EXCLUDED.roles,
			capabilities = EXCLUDED.capabilities,
			status = EXCLUDED.status,
			last_heartbeat = now()
	`
	_, err := r.pool.Exec(ctx, q, n.ID, n.Hostname, n.Address, n.HTTPPort, n.RPCPort, n.Roles, n.Capabilities, n.Status)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

func (r *NodeRepo) UpdateHeartbeat(ctx context.Context, nodeID string, load repository.NodeLoad) error {
	const q = `
		UPDATE forge_nodes
		SET last_heartbeat = now(), current_connections = $2, current_jobs = $3, cpu_usage = $4, memory_usage = $5
		WHERE id = $1 AND status != 'dead'
	`
	_, err := r.pool.Exec(ctx, q, nodeID, load.CurrentConnections, load.CurrentJobs, load.CPUUsage, load.MemoryUsage)
	if err != nil {
		return fmt.Errorf("update node heartbeat: %w", err)
	}
	return nil
}

func (r *NodeRepo) MarkDraining(ctx context.Context, nodeID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE forge_nodes SET status = 'draining' WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("mark node draining: %w", err)
	}
	return nil
}

// MarkDeadStale is the set-oriented dead-marking update any node may run:
// it only touches rows currently active and past dead_threshold.
func (r *NodeRepo) MarkDeadStale(ctx context.Context, deadThreshold time.Duration) (int64, error) {
	const q = `
		UPDATE forge_nodes
		SET status = 'dead'
		WHERE status = 'active' AND last_heartbeat < now() - make_interval(secs => $1)
	`
	tag, err := r.pool.Exec(ctx, q, deadThreshold.Seconds())
	if err != nil {
		return 0, fmt.Errorf("mark dead nodes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *NodeRepo) Delete(ctx context.Context, nodeID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM forge_nodes WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

func (r *NodeRepo) List(ctx context.Context) ([]*domain.Node, error) {
	const q = `
		SELECT id, hostname, address, http_port, rpc_port, roles, capabilities, status,
		       last_heartbeat, started_at, current_connections, current_jobs, cpu_usage, memory_usage
		FROM forge_nodes
		ORDER BY started_at ASC
	`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NodeRepo) Get(ctx context.Context, nodeID string) (*domain.Node, error) {
	const q = `
		SELECT id, hostname, address, http_port, rpc_port, roles, capabilities, status,
		       last_heartbeat, started_at, current_connections, current_jobs, cpu_usage, memory_usage
		FROM forge_nodes WHERE id = $1
	`
	row := r.pool.QueryRow(ctx, q, nodeID)
	n, err := scanNode(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNodeNotFound
		}
		return nil, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*domain.Node, error) {
	var n domain.Node
	var status string
	err := row.Scan(
		&n.ID, &n.Hostname, &n.Address, &n.HTTPPort, &n.RPCPort, &n.Roles, &n.Capabilities, &status,
		&n.LastHeartbeat, &n.StartedAt, &n.CurrentConnections, &n.CurrentJobs, &n.CPUUsage, &n.MemoryUsage,
	)
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	n.Status = domain.NodeStatus(status)
	return &n, nil
}
