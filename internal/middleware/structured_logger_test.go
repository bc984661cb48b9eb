package middleware

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStructuredLoggerConfig(t *testing.T) {
	cfg := DefaultStructuredLoggerConfig()

	assert.Equal(t, []string{"/health", "/metrics"}, cfg.SkipPaths)
	assert.False(t, cfg.SkipSuccessfulRequests)
	assert.Nil(t, cfg.Logger)
	assert.Nil(t, cfg.Fields)
	assert.Equal(t, 10*time.Second, cfg.SlowRequestThreshold)
}

func TestRedactQueryString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    []string
		notExpected []string
	}{
		{
			name:     "no sensitive params",
			input:    "page=1&limit=10",
			expected: []string{"page=1", "limit=10"},
		},
		{
			name:        "redacts signed download token",
			input:       "token=eyJhbGciOi&download=1",
			expected:    []string{"token=%5Bredacted%5D", "download=1"},
			notExpected: []string{"eyJhbGciOi"},
		},
		{
			name:        "presigned s3 signature",
			input:       "X-Amz-Signature=abcdef0123&X-Amz-Expires=604800",
			expected:    []string{"X-Amz-Expires=604800"},
			notExpected: []string{"abcdef0123"},
		},
		{
			name:        "case insensitive",
			input:       "Access_Token=mixedcase",
			expected:    []string{"%5Bredacted%5D"},
			notExpected: []string{"mixedcase"},
		},
		{
			name:     "unparseable query is fully redacted",
			input:    "invalid=%zz",
			expected: []string{"[redacted]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactQueryString(tt.input)
			for _, exp := range tt.expected {
				assert.Contains(t, result, exp)
			}
			for _, notExp := range tt.notExpected {
				assert.NotContains(t, result, notExp)
			}
		})
	}

	assert.Equal(t, "", redactQueryString(""))
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(StructuredLogger(StructuredLoggerConfig{
		SkipPaths: []string{"/health"},
		Logger:    &logger,
	}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("OK") })
	app.Post("/bundle", func(c *fiber.Ctx) error {
		c.Locals("session_id", "session-123")
		c.Locals("artifact_id", "artifact-0123456789abcdef0123456789abcdef")
		c.Locals("cache_hit", false)
		return c.Status(fiber.StatusTooManyRequests).SendString("slow down")
	})
	app.Get("/object", func(c *fiber.Ctx) error { return c.SendString("<html>") })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("kaput") })
	app.Get("/events", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		return c.SendString("event: complete\ndata: {}\n\n")
	})

	t.Run("skips configured paths", func(t *testing.T) {
		buf.Reset()
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Empty(t, buf.String())
	})

	t.Run("logs caller fields set by handlers", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest("POST", "/bundle", nil)
		req.Header.Set("X-Request-ID", "req-42")
		_, err := app.Test(req)
		require.NoError(t, err)

		out := buf.String()
		assert.Contains(t, out, `"level":"warn"`)
		assert.Contains(t, out, "req-42")
		assert.Contains(t, out, "session-123")
		assert.Contains(t, out, `"cache_hit":false`)
		assert.Contains(t, out, "artifact-0123456789abcdef0123456789abcdef")
		assert.Contains(t, out, `"status":429`)
	})

	t.Run("redacts query", func(t *testing.T) {
		buf.Reset()
		_, err := app.Test(httptest.NewRequest("GET", "/object?token=secret-token", nil))
		require.NoError(t, err)
		assert.NotContains(t, buf.String(), "secret-token")
		assert.Contains(t, buf.String(), `"level":"info"`)
	})

	t.Run("event streams are flagged instead of sized", func(t *testing.T) {
		buf.Reset()
		_, err := app.Test(httptest.NewRequest("GET", "/events", nil))
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"stream":true`)
		assert.NotContains(t, buf.String(), "response_bytes")
	})

	t.Run("handler errors log at error level", func(t *testing.T) {
		buf.Reset()
		_, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
		require.NoError(t, err)
		assert.Contains(t, buf.String(), `"level":"error"`)
		assert.Contains(t, buf.String(), "kaput")
	})
}

func TestStructuredLogger_SkipSuccessfulRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(StructuredLogger(StructuredLoggerConfig{Logger: &logger, SkipSuccessfulRequests: true}))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("OK") })
	app.Get("/fail", func(c *fiber.Ctx) error { return c.Status(500).SendString("no") })

	_, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Empty(t, buf.String())

	_, err = app.Test(httptest.NewRequest("GET", "/fail", nil))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "/fail")
}

func TestStructuredLogger_CustomFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	app := fiber.New()
	app.Use(StructuredLogger(StructuredLoggerConfig{Logger: &logger, Fields: []string{"bundle_hash"}}))
	app.Get("/", func(c *fiber.Ctx) error {
		c.Locals("bundle_hash", "f00d")
		c.Locals("session_id", "not-logged")
		return c.SendString("OK")
	})

	_, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"bundle_hash":"f00d"`)
	assert.NotContains(t, buf.String(), "not-logged")
}
