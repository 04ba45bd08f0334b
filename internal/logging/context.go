package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type stageCtxKey struct{}

// WithRun stamps the run ID on the context so every log line from that run
// carries it.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// WithStage stamps the active stage on the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// RunIDFromContext returns the run ID stamped on ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from ctx: the run ID, the active
// stage, and OTEL trace/span IDs when a sampled span is live.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if runID, ok := ctx.Value(runCtxKey{}).(string); ok && runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}
	if stage, ok := ctx.Value(stageCtxKey{}).(string); ok && stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	return fields
}
