package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const bundlerScope = "artifacts-bundler"

// BundleSpanConfig holds attributes of a bundle request span
type BundleSpanConfig struct {
	RequestID       string
	ArtifactID      string
	SessionID       string
	Dependencies    int
	UseFrameworkEsm bool
	Streaming       bool
}

// StartBundleSpan starts the span covering one bundle request. Stage spans
// started from the returned context become its children.
func StartBundleSpan(ctx context.Context, cfg BundleSpanConfig) (context.Context, trace.Span) {
	return otel.Tracer(bundlerScope).Start(ctx, "bundle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("bundle.request_id", cfg.RequestID),
			attribute.String("bundle.artifact_id", cfg.ArtifactID),
			attribute.String("bundle.session_id", cfg.SessionID),
			attribute.Int("bundle.dependencies", cfg.Dependencies),
			attribute.Bool("bundle.framework_esm", cfg.UseFrameworkEsm),
			attribute.Bool("bundle.streaming", cfg.Streaming),
		),
	)
}

// StartStageSpan starts a child span for one pipeline stage
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(bundlerScope).Start(ctx, "bundle."+stage,
		trace.WithAttributes(attribute.String("bundle.stage", stage)),
	)
}

// StartStorageSpan starts a client span for one object storage call
func StartStorageSpan(ctx context.Context, operation, bucket, key string) (context.Context, trace.Span) {
	return otel.Tracer("artifacts-storage").Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.bucket", bucket),
			attribute.String("storage.key", key),
		),
	)
}

// AddSpanEvent adds an event to the span in ctx, if it records
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// SetUser tags the span in ctx with the authenticated caller
func SetUser(ctx context.Context, userID string) {
	if span := trace.SpanFromContext(ctx); userID != "" && span.IsRecording() {
		span.SetAttributes(attribute.String("user.id", userID))
	}
}

// EndSpan ends span and records err on it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
