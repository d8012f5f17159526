package domain

import "time"

// MetricRecord is one captured metric sample, persisted to forge_metrics.
// Grounded on original_source's forge-core Metric/MetricValue shape,
// collapsed to the scalar case: the runtime's own counters/gauges/
// histograms are already exposed richly via Prometheus (internal/metrics),
// so the database-backed trail only needs a name/value/labels point-in-time
// record for the dashboard's historical queries.
type MetricRecord struct {
	Name       string
	Value      float64
	Labels     map[string]string
	RecordedAt time.Time
}

// LogRecord is one captured structured log line, persisted to forge_logs.
type LogRecord struct {
	Level      string
	Message    string
	Attrs      map[string]any
	NodeID     string
	RecordedAt time.Time
}

// SpanRecord is one captured trace span, persisted to forge_traces.
type SpanRecord struct {
	TraceID    string
	SpanName   string
	DurationMs float64
	Attrs      map[string]any
	RecordedAt time.Time
}
