package middleware

import (
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// redactedParams are query parameters whose values never reach the logs.
// Signed bundle URLs carry their credential in "token".
var redactedParams = []string{"token", "access_token", "x-amz-signature", "x-amz-credential", "signature"}

// ContextFields are request locals copied into the request log line when
// handlers set them
var ContextFields = []string{"session_id", "artifact_id", "bundle_hash", "cache_hit"}

// StructuredLoggerConfig holds configuration for structured logging
type StructuredLoggerConfig struct {
	// SkipPaths are exact paths that are never logged
	SkipPaths []string
	// SkipSuccessfulRequests drops 2xx lines
	SkipSuccessfulRequests bool
	// Logger defaults to the global logger
	Logger *zerolog.Logger
	// SlowRequestThreshold logs slower requests at WARN (0 = disabled)
	SlowRequestThreshold time.Duration
	// Fields overrides ContextFields
	Fields []string
}

// DefaultStructuredLoggerConfig returns default configuration
func DefaultStructuredLoggerConfig() StructuredLoggerConfig {
	return StructuredLoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		// A cold bundle probes several CDNs and uploads, so seconds are normal
		SlowRequestThreshold: 10 * time.Second,
	}
}

// redactQueryString masks redacted parameter values, matching names case-insensitively
func redactQueryString(raw string) string {
	if raw == "" {
		return ""
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		return "[redacted]"
	}

	for key := range values {
		for _, name := range redactedParams {
			if strings.EqualFold(key, name) {
				values.Set(key, "[redacted]")
				break
			}
		}
	}
	return values.Encode()
}

// StructuredLogger returns a middleware that writes one log line per request
func StructuredLogger(config ...StructuredLoggerConfig) fiber.Handler {
	cfg := DefaultStructuredLoggerConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	fields := cfg.Fields
	if fields == nil {
		fields = ContextFields
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		if _, ok := skip[path]; ok {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if cfg.SkipSuccessfulRequests && err == nil && status >= 200 && status < 300 {
			return err
		}

		var event *zerolog.Event
		switch {
		case err != nil, status >= 500:
			event = logger.Error().Err(err)
		case status >= 400:
			event = logger.Warn()
		case cfg.SlowRequestThreshold > 0 && duration > cfg.SlowRequestThreshold:
			event = logger.Warn().Bool("slow_request", true)
		default:
			event = logger.Info()
		}

		event = event.
			Str("request_id", requestIDOf(c)).
			Str("method", c.Method()).
			Str("path", path).
			Str("ip", c.IP()).
			Int("status", status).
			Int64("duration_ms", duration.Milliseconds())

		if q := string(c.Request().URI().QueryString()); q != "" {
			event = event.Str("query", redactQueryString(q))
		}

		for _, name := range fields {
			switch v := c.Locals(name).(type) {
			case string:
				if v != "" {
					event = event.Str(name, v)
				}
			case bool:
				event = event.Bool(name, v)
			}
		}

		// Event streams are written after the handler returns, so their size is unknown here
		if strings.HasPrefix(string(c.Response().Header.ContentType()), "text/event-stream") {
			event = event.Bool("stream", true)
		} else {
			event = event.Int("response_bytes", len(c.Response().Body()))
		}

		event.Msg("HTTP request")
		return err
	}
}

// requestIDOf prefers the requestid middleware's local over the raw header
func requestIDOf(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
