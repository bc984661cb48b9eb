package middleware

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDHeader echoes the request trace so clients can quote it in bug reports
const TraceIDHeader = "X-Trace-ID"

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	Enabled bool
	// SkipPaths are exact paths that get no span
	SkipPaths []string
}

// DefaultTracingConfig returns sensible defaults
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:   true,
		SkipPaths: []string{"/health", "/metrics"},
	}
}

// spanLocals maps request locals set by the bundle handler onto span attributes
var spanLocals = map[string]string{
	"session_id":  "artifact.session_id",
	"artifact_id": "artifact.id",
	"bundle_hash": "artifact.bundle_hash",
}

// TracingMiddleware starts a server span per request, continuing any W3C
// parent from the incoming headers. Pipeline stage spans hang off it.
func TracingMiddleware(cfg TracingConfig) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	tracer := otel.Tracer("artifacts-http")

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, ok := skip[path]; ok {
			return c.Next()
		}

		parent := otel.GetTextMapPropagator().Extract(c.UserContext(), propagation.HeaderCarrier(c.GetReqHeaders()))
		ctx, span := tracer.Start(parent, fmt.Sprintf("%s %s", c.Method(), path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPMethod(c.Method()),
				semconv.HTTPRoute(path),
				attribute.String("http.request_id", requestIDOf(c)),
				attribute.String("net.peer.ip", c.IP()),
			),
		)
		defer span.End()

		c.SetUserContext(ctx)
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Set(TraceIDHeader, sc.TraceID().String())
		}

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetAttributes(semconv.HTTPStatusCode(status))
		for local, attr := range spanLocals {
			if v, ok := c.Locals(local).(string); ok && v != "" {
				span.SetAttributes(attribute.String(attr, v))
			}
		}
		if hit, ok := c.Locals("cache_hit").(bool); ok {
			span.SetAttributes(attribute.Bool("artifact.cache_hit", hit))
		}

		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case status >= 500:
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
		return err
	}
}

// GetTraceID returns the trace ID of the request span, if any
func GetTraceID(c *fiber.Ctx) string {
	if sc := trace.SpanContextFromContext(c.UserContext()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// DetachedContext returns the request's trace context without fiber's request
// lifetime, for work that outlives the handler such as streamed responses
func DetachedContext(c *fiber.Ctx) context.Context {
	return trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(c.UserContext()))
}
