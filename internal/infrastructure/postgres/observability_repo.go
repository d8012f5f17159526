package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

// ObservabilityRepo batch-inserts captured metrics/logs/spans with
// pgx.Batch, the same bulk-write shape the job scheduler this runtime
// descends from never needed but pgx/v5 provides natively — one round
// trip per Write call regardless of batch size.
type ObservabilityRepo struct {
	pool *pgxpool.Pool
}

func NewObservabilityRepo(pool *pgxpool.Pool) *ObservabilityRepo {
	return &ObservabilityRepo{pool: pool}
}

var _ repository.ObservabilityRepository = (*ObservabilityRepo)(nil)

func (r *ObservabilityRepo) WriteMetrics(ctx context.Context, batch []domain.MetricRecord) error {
	if len(batch) == 0 {
		return nil
	}
	const q = `INSERT INTO forge_metrics (name, value, labels_json, recorded_at) VALUES ($1, $2, $3, $4)`
	b := &pgx.Batch{}
	for _, m := range batch {
		labels, err := json.Marshal(m.Labels)
		if err != nil {
			return fmt.Errorf("marshal metric labels: %w", err)
		}
		b.Queue(q, m.Name, m.Value, labels, m.RecordedAt)
	}
	return r.sendBatch(ctx, b, len(batch))
}

func (r *ObservabilityRepo) WriteLogs(ctx context.Context, batch []domain.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}
	const q = `INSERT INTO forge_logs (level, message, attrs_json, node_id, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	b := &pgx.Batch{}
	for _, l := range batch {
		attrs, err := json.Marshal(l.Attrs)
		if err != nil {
			return fmt.Errorf("marshal log attrs: %w", err)
		}
		b.Queue(q, l.Level, l.Message, attrs, l.NodeID, l.RecordedAt)
	}
	return r.sendBatch(ctx, b, len(batch))
}

func (r *ObservabilityRepo) WriteSpans(ctx context.Context, batch []domain.SpanRecord) error {
	if len(batch) == 0 {
		return nil
	}
	const q = `INSERT INTO forge_traces (trace_id, span_name, duration_ms, attrs_json, recorded_at) VALUES ($1, $2, $3, $4, $5)`
	b := &pgx.Batch{}
	for _, s := range batch {
		attrs, err := json.Marshal(s.Attrs)
		if err != nil {
			return fmt.Errorf("marshal span attrs: %w", err)
		}
		b.Queue(q, s.TraceID, s.SpanName, s.DurationMs, attrs, s.RecordedAt)
	}
	return r.sendBatch(ctx, b, len(batch))
}

func (r *ObservabilityRepo) sendBatch(ctx context.Context, b *pgx.Batch, n int) error {
	br := r.pool.SendBatch(ctx, b)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert: %w", err)
		}
	}
	return nil
}
