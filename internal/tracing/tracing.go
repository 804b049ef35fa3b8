// Package tracing provides span plumbing for log correlation.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tobiasma/picfetch/internal/logger"
)

// Tracer wraps an otel tracer.
type Tracer struct {
	tracer trace.Tracer
	Log    *logger.Logger
}

// New creates a tracer from the globally configured provider.
func New(log *logger.Logger) *Tracer {
	return &Tracer{
		tracer: otel.Tracer("picfetch"),
		Log:    log,
	}
}

// Start begins a span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// TraceInfo returns the trace and span ids from the context, or empty
// strings when the context carries no valid span context.
func TraceInfo(ctx context.Context) (traceID string, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}

	return sc.TraceID().String(), sc.SpanID().String()
}
