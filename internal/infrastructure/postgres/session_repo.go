package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

var _ repository.SessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Create(ctx context.Context, s *domain.Session) error {
	const q = `
		INSERT INTO forge_sessions (id, node_id, user_id, status, subscription_count, created_at, last_active)
		VALUES ($1, $2, $3, $4, 0, now(), now())
	`
	_, err := r.pool.Exec(ctx, q, s.ID, s.NodeID, nullString(s.UserID), string(s.Status))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Touch(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE forge_sessions SET last_active = now() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// MarkDeadForNode implements "a node going dead implies its sessions are
// dead" (§3): a single set-oriented update, not a per-session loop.
func (r *SessionRepo) MarkDeadForNode(ctx context.Context, nodeID string) (int64, error) {
	const q = `UPDATE forge_sessions SET status = 'dead' WHERE node_id = $1 AND status != 'dead'`
	tag, err := r.pool.Exec(ctx, q, nodeID)
	if err != nil {
		return 0, fmt.Errorf("mark sessions dead for node: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM forge_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *SessionRepo) AddSubscription(ctx context.Context, sub *domain.Subscription) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add subscription tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertQ = `
		INSERT INTO forge_subscriptions
			(id, session_id, query_fingerprint, table_name, read_set_kind, row_ids, predicate, last_delta_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
	`
	_, err = tx.Exec(ctx, insertQ, sub.ID, sub.SessionID, sub.QueryFingerprint, sub.Table,
		string(sub.ReadSetKind), sub.RowIDs, nullString(sub.Predicate))
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE forge_sessions SET subscription_count = subscription_count + 1 WHERE id = $1`, sub.SessionID)
	if err != nil {
		return fmt.Errorf("increment subscription count: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *SessionRepo) RemoveSubscription(ctx context.Context, subscriptionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove subscription tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID string
	err = tx.QueryRow(ctx, `DELETE FROM forge_subscriptions WHERE id = $1 RETURNING session_id`, subscriptionID).Scan(&sessionID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE forge_sessions SET subscription_count = GREATEST(0, subscription_count - 1) WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("decrement subscription count: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *SessionRepo) SubscriptionsForTable(ctx context.Context, table string) ([]*domain.Subscription, error) {
	const q = `
		SELECT id, session_id, query_fingerprint, table_name, read_set_kind, row_ids, predicate, last_delta_version
		FROM forge_subscriptions WHERE table_name = $1
	`
	rows, err := r.pool.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("subscriptions for table: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var readSetKind string
		var predicate *string
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.QueryFingerprint, &sub.Table, &readSetKind,
			&sub.RowIDs, &predicate, &sub.LastDeltaVersion); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.ReadSetKind = domain.ReadSetKind(readSetKind)
		if predicate != nil {
			sub.Predicate = *predicate
		}
		out = append(out, &sub)
	}
	return out, rows.Err()
}
