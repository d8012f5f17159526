// Package observability implements the metric/log/span capture and
// periodic batch flush described in §2's component table, grounded on
// original_source's forge-runtime/src/observability (collector + tracing
// layer + periodic flush) collapsed onto the teacher's ambient stack:
// Prometheus (internal/metrics) already serves live scrape-based metrics,
// so this package's job is narrower than the Rust original's — capture a
// durable, queryable trail into forge_metrics/forge_logs/forge_traces for
// the dashboard, not replace Prometheus.
package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/repository"
)

// Config mirrors the TOML [observability] section.
type Config struct {
	FlushInterval time.Duration
	BatchSize     int
	TracingEnabled bool
}

// Collector buffers captured records in bounded channels until the next
// flush tick drains them. Capture calls are non-blocking: on overflow the
// new record is dropped (records already buffered are kept) and a counter
// increments, because a full observability buffer must never make
// request-handling code block on it.
type Collector struct {
	nodeID string

	metrics chan domain.MetricRecord
	logs    chan domain.LogRecord
	spans   chan domain.SpanRecord

	dropped int64
}

// NewCollector builds a Collector with a fixed-size buffer per record
// kind, sized from cfg.BatchSize so a single flush tick can usually drain
// an entire tick's worth of traffic without dropping.
func NewCollector(nodeID string, cfg Config) *Collector {
	capacity := cfg.BatchSize
	if capacity <= 0 {
		capacity = 500
	}
	return &Collector{
		nodeID:  nodeID,
		metrics: make(chan domain.MetricRecord, capacity*4),
		logs:    make(chan domain.LogRecord, capacity*4),
		spans:   make(chan domain.SpanRecord, capacity*4),
	}
}

// CaptureMetric records one metric sample. labels is copied defensively
// so a caller reusing a map after the call does not race the flush loop.
func (c *Collector) CaptureMetric(name string, value float64, labels map[string]string) {
	rec := domain.MetricRecord{Name: name, Value: value, Labels: cloneStrMap(labels), RecordedAt: time.Now()}
	select {
	case c.metrics <- rec:
	default:
		c.dropped++
	}
}

// CaptureLog records one structured log line. Called from
// log.ContextHandler when a Collector is attached, so every slog call
// site gets a durable trail with no call-site changes.
func (c *Collector) CaptureLog(level, message string, attrs map[string]any) {
	rec := domain.LogRecord{Level: level, Message: message, Attrs: cloneAnyMap(attrs), NodeID: c.nodeID, RecordedAt: time.Now()}
	select {
	case c.logs <- rec:
	default:
		c.dropped++
	}
}

// CaptureSpan records one completed span. TracingEnabled gates whether
// callers bother measuring duration at all; Collector itself stays
// unconditional so it never needs to know the config that gated the call.
func (c *Collector) CaptureSpan(traceID, spanName string, duration time.Duration, attrs map[string]any) {
	rec := domain.SpanRecord{TraceID: traceID, SpanName: spanName, DurationMs: float64(duration.Microseconds()) / 1000, Attrs: cloneAnyMap(attrs), RecordedAt: time.Now()}
	select {
	case c.spans <- rec:
	default:
		c.dropped++
	}
}

// Dropped returns the cumulative count of records dropped for lack of
// buffer space.
func (c *Collector) Dropped() int64 { return c.dropped }

func cloneStrMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Bridge periodically drains a Collector into an ObservabilityRepository.
// Only one Bridge needs to run per process (it drains process-local
// channels), unlike the leader-gated loops — every node flushes its own
// captured data independently.
type Bridge struct {
	collector *Collector
	repo      repository.ObservabilityRepository
	cfg       Config
	logger    *slog.Logger
}

func NewBridge(collector *Collector, repo repository.ObservabilityRepository, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Bridge{collector: collector, repo: repo, cfg: cfg, logger: logger}
}

// Run drains the collector on a ticker until ctx is cancelled, flushing
// whatever has accumulated since the last tick (never more than
// cfg.BatchSize per kind per tick, so one slow tick cannot block the
// next indefinitely).
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return
		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

func (b *Bridge) flush(ctx context.Context) {
	if metrics := drainMetrics(b.collector.metrics, b.cfg.BatchSize); len(metrics) > 0 {
		if err := b.repo.WriteMetrics(ctx, metrics); err != nil {
			b.logger.Warn("observability: flush metrics failed", "error", err, "count", len(metrics))
		}
	}
	if logs := drainLogs(b.collector.logs, b.cfg.BatchSize); len(logs) > 0 {
		if err := b.repo.WriteLogs(ctx, logs); err != nil {
			b.logger.Warn("observability: flush logs failed", "error", err, "count", len(logs))
		}
	}
	if spans := drainSpans(b.collector.spans, b.cfg.BatchSize); len(spans) > 0 {
		if err := b.repo.WriteSpans(ctx, spans); err != nil {
			b.logger.Warn("observability: flush spans failed", "error", err, "count", len(spans))
		}
	}
}

func drainMetrics(ch chan domain.MetricRecord, limit int) []domain.MetricRecord {
	out := make([]domain.MetricRecord, 0, limit)
	for len(out) < limit {
		select {
		case rec := <-ch:
			out = append(out, rec)
		default:
			return out
		}
	}
	return out
}

func drainLogs(ch chan domain.LogRecord, limit int) []domain.LogRecord {
	out := make([]domain.LogRecord, 0, limit)
	for len(out) < limit {
		select {
		case rec := <-ch:
			out = append(out, rec)
		default:
			return out
		}
	}
	return out
}

func drainSpans(ch chan domain.SpanRecord, limit int) []domain.SpanRecord {
	out := make([]domain.SpanRecord, 0, limit)
	for len(out) < limit {
		select {
		case rec := <-ch:
			out = append(out, rec)
		default:
			return out
		}
	}
	return out
}
