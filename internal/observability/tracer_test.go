package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxbase-eu/artifacts/internal/config"
)

// recordSpans installs an in-memory span recorder as the global provider
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestNewTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)

	assert.False(t, tr.IsEnabled())
	assert.NoError(t, tr.Shutdown(context.Background()))

	var nilTracer *Tracer
	assert.False(t, nilTracer.IsEnabled())
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "unset samples everything", rate: 0, want: "AlwaysOnSampler"},
		{name: "full rate", rate: 1, want: "AlwaysOnSampler"},
		{name: "ratio", rate: 0.25, want: "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := sampler(tt.rate).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}

func TestStartBundleSpan(t *testing.T) {
	rec := recordSpans(t)

	ctx, root := StartBundleSpan(context.Background(), BundleSpanConfig{
		RequestID:    "req-1",
		ArtifactID:   "artifact-0123456789abcdef0123456789abcdef",
		SessionID:    "11111111-1111-1111-1111-111111111111",
		Dependencies: 2,
		Streaming:    true,
	})
	SetUser(ctx, "user-1")
	AddSpanEvent(ctx, "transpile.failed")

	_, fetch := StartStageSpan(ctx, "fetch")
	EndSpan(fetch, nil)
	_, upload := StartStageSpan(ctx, "upload")
	EndSpan(upload, errors.New("storage unavailable"))
	EndSpan(root, nil)

	ended := rec.Ended()
	require.Len(t, ended, 3)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}

	rootSpan := byName["bundle"]
	require.NotNil(t, rootSpan)
	assert.Contains(t, rootSpan.Attributes(), attribute.String("user.id", "user-1"))
	assert.Contains(t, rootSpan.Attributes(), attribute.Int("bundle.dependencies", 2))
	assert.Contains(t, rootSpan.Attributes(), attribute.Bool("bundle.streaming", true))
	require.Len(t, rootSpan.Events(), 1)
	assert.Equal(t, "transpile.failed", rootSpan.Events()[0].Name)

	fetchSpan := byName["bundle.fetch"]
	require.NotNil(t, fetchSpan)
	assert.Equal(t, rootSpan.SpanContext().SpanID(), fetchSpan.Parent().SpanID())
	assert.NotEqual(t, codes.Error, fetchSpan.Status().Code)

	uploadSpan := byName["bundle.upload"]
	require.NotNil(t, uploadSpan)
	assert.Equal(t, codes.Error, uploadSpan.Status().Code)
}

func TestSpanHelpers_WithoutSpan(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		SetUser(ctx, "user-1")
		AddSpanEvent(ctx, "event")
	})
}

func TestStartStorageSpan(t *testing.T) {
	rec := recordSpans(t)

	_, span := StartStorageSpan(context.Background(), "upload", "artifact-bundles", "s/a/bundle.html")
	assert.Equal(t, trace.SpanKindClient, span.(sdktrace.ReadOnlySpan).SpanKind())
	EndSpan(span, nil)

	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, "storage.upload", rec.Ended()[0].Name())
	assert.Contains(t, rec.Ended()[0].Attributes(), attribute.String("storage.bucket", "artifact-bundles"))
}
