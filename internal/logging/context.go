package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	flowchartIDKey ctxKey = iota
	sessionIDKey
	nodeIDKey
	testcaseIDKey
)

// correlationAttrs lists the context keys in the order they are logged.
var correlationAttrs = []struct {
	key  ctxKey
	name string
}{
	{flowchartIDKey, "flowchart_id"},
	{sessionIDKey, "session_id"},
	{nodeIDKey, "node_id"},
	{testcaseIDKey, "testcase_id"},
}

// WithFlowchartID returns a context carrying the flowchart ID.
func WithFlowchartID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, flowchartIDKey, id)
}

// WithSessionID returns a context carrying the execution or grading session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// WithNodeID returns a context carrying the current node ID.
func WithNodeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, nodeIDKey, id)
}

// WithTestcaseID returns a context carrying the testcase ID.
func WithTestcaseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, testcaseIDKey, id)
}

// FlowchartID extracts the flowchart ID from the context, or "" if absent.
func FlowchartID(ctx context.Context) string { return value(ctx, flowchartIDKey) }

// SessionID extracts the session ID from the context, or "" if absent.
func SessionID(ctx context.Context) string { return value(ctx, sessionIDKey) }

// NodeID extracts the node ID from the context, or "" if absent.
func NodeID(ctx context.Context) string { return value(ctx, nodeIDKey) }

// TestcaseID extracts the testcase ID from the context, or "" if absent.
func TestcaseID(ctx context.Context) string { return value(ctx, testcaseIDKey) }

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// LogWith returns a logger enriched with the correlation IDs present in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs {
		if v := value(ctx, a.key); v != "" {
			logger = logger.With(slog.String(a.name, v))
		}
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, injecting the correlation IDs
// found in the record's context. Use with slog.New(NewCorrelationHandler(h))
// and log through the *Context methods.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, a := range correlationAttrs {
		if v := value(ctx, a.key); v != "" {
			r.AddAttrs(slog.String(a.name, v))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// OrDefault returns logger, or slog.Default() when it is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
