package observability_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/observability"
)

type fakeObsRepo struct {
	metrics []domain.MetricRecord
	logs    []domain.LogRecord
	spans   []domain.SpanRecord
}

func (f *fakeObsRepo) WriteMetrics(_ context.Context, batch []domain.MetricRecord) error {
	f.metrics = append(f.metrics, batch...)
	return nil
}

func (f *fakeObsRepo) WriteLogs(_ context.Context, batch []domain.LogRecord) error {
	f.logs = append(f.logs, batch...)
	return nil
}

func (f *fakeObsRepo) WriteSpans(_ context.Context, batch []domain.SpanRecord) error {
	f.spans = append(f.spans, batch...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollector_CaptureAndDrop(t *testing.T) {
	c := observability.NewCollector("node-1", observability.Config{BatchSize: 2})

	for i := 0; i < 20; i++ {
		c.CaptureMetric("requests_total", float64(i), map[string]string{"route": "/rpc"})
	}

	if c.Dropped() == 0 {
		t.Fatal("expected some metrics to be dropped once the buffer fills")
	}
}

func TestBridge_FlushDrainsCollector(t *testing.T) {
	c := observability.NewCollector("node-1", observability.Config{BatchSize: 10})
	c.CaptureMetric("jobs_claimed", 1, nil)
	c.CaptureLog("info", "job claimed", map[string]any{"job_id": "j1"})
	c.CaptureSpan("trace-1", "rpc:/rpc", 5*time.Millisecond, map[string]any{"status": 200})

	repo := &fakeObsRepo{}
	bridge := observability.NewBridge(c, repo, observability.Config{FlushInterval: time.Millisecond, BatchSize: 10}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	bridge.Run(ctx)

	if len(repo.metrics) != 1 || repo.metrics[0].Name != "jobs_claimed" {
		t.Fatalf("expected one flushed metric, got %+v", repo.metrics)
	}
	if len(repo.logs) != 1 || repo.logs[0].Message != "job claimed" {
		t.Fatalf("expected one flushed log, got %+v", repo.logs)
	}
	if len(repo.spans) != 1 || repo.spans[0].SpanName != "rpc:/rpc" {
		t.Fatalf("expected one flushed span, got %+v", repo.spans)
	}
}
