package log

import (
	"context"
	"log/slog"

	"github.com/forgehq/forge/internal/requestid"
)

// Collector receives a copy of every log record handled, so the
// observability bridge gets a durable trail with no call-site changes —
// the same role original_source's ForgeTracingLayer plays for its
// tracing-subscriber pipeline.
type Collector interface {
	CaptureLog(level, message string, attrs map[string]any)
}

// ContextHandler wraps an slog.Handler and automatically extracts
// request_id from the context of each log record.
type ContextHandler struct {
	inner     slog.Handler
	collector Collector
}

// NewContextHandler returns a handler that enriches every record with
// context values (currently request_id) before delegating to inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

// WithCollector attaches an observability.Collector so every record also
// gets forwarded for durable capture. Returns h for chaining at startup.
func (h *ContextHandler) WithCollector(c Collector) *ContextHandler {
	h.collector = c
	return h
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if h.collector != nil {
		attrs := make(map[string]any, r.NumAttrs())
		r.Attrs(func(a slog.Attr) bool {
			attrs[a.Key] = a.Value.Any()
			return true
		})
		h.collector.CaptureLog(r.Level.String(), r.Message, attrs)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), collector: h.collector}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name), collector: h.collector}
}
