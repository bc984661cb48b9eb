package artifacts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	name string
	data string
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	NewHandler(f.service).RegisterRoutes(app.Group("/api/v1"))
	return app
}

func postBundle(t *testing.T, app *fiber.App, body any, headers map[string]string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1"+BundlePath, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func readEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var events []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(string(raw)), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		events = append(events, ev)
	}
	return events
}

func TestHandler_JSON(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	t.Run("success", func(t *testing.T) {
		resp := postBundle(t, app, validRequest(), map[string]string{fiber.HeaderXRequestID: "req-json"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "req-json", body["requestId"])
		assert.Equal(t, false, body["cacheHit"])
		assert.NotEmpty(t, body["bundleUrl"])
		assert.NotEmpty(t, body["expiresAt"])
		assert.Greater(t, body["bundleSize"], 0.0)
		assert.Equal(t, []any{"recharts"}, body["dependencies"])
	})

	t.Run("validation error", func(t *testing.T) {
		req := validRequest()
		req.SessionID = "not-a-uuid"
		resp := postBundle(t, app, req, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "Invalid bundle request", body["error"])
		assert.Contains(t, body["details"], "sessionId")
		assert.Equal(t, false, body["retryable"])
		assert.NotEmpty(t, body["requestId"])
		assert.NotContains(t, body, "retryAfter")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1"+BundlePath, strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("auth required", func(t *testing.T) {
		req := validRequest()
		req.IsGuest = false
		resp := postBundle(t, app, req, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, true, decodeBody(t, resp)["requiresAuth"])
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		req := validRequest()
		req.IsGuest = false
		resp := postBundle(t, app, req, map[string]string{"Authorization": "Bearer " + f.token(t, testUserID)})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHandler_RateLimited(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Dependencies) { c.GuestMax = 1 })
	app := newTestApp(f)

	resp := postBundle(t, app, validRequest(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postBundle(t, app, validRequest(), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["retryable"])
	assert.Greater(t, body["retryAfter"], 0.0)
}

func TestHandler_Stream(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	t.Run("stage events then complete", func(t *testing.T) {
		req := validRequest()
		req.Streaming = true

		resp := postBundle(t, app, req, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
		assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

		events := readEvents(t, resp)
		var names []string
		for _, ev := range events {
			names = append(names, ev.name)
		}
		assert.Equal(t, []string{"progress", "progress", "progress", "progress", "progress", "complete"}, names)

		var p Progress
		require.NoError(t, json.Unmarshal([]byte(events[2].data), &p))
		assert.Equal(t, StageFetch, p.Stage)
		assert.Equal(t, 45, p.Percent)

		var done Result
		require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].data), &done))
		assert.True(t, done.Success)
		assert.False(t, done.CacheHit)
	})

	t.Run("error ends the stream", func(t *testing.T) {
		req := validRequest()
		req.Streaming = true
		req.ArtifactID = "bad"

		events := readEvents(t, postBundle(t, app, req, map[string]string{fiber.HeaderXRequestID: "req-sse"}))
		require.Len(t, events, 2)
		assert.Equal(t, "progress", events[0].name)
		assert.Equal(t, "error", events[1].name)

		var body ErrorBody
		require.NoError(t, json.Unmarshal([]byte(events[1].data), &body))
		assert.Equal(t, "req-sse", body.RequestID)
		assert.Contains(t, body.Details, "artifactId")
	})
}

type brokenWriter struct{ writes int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestEventStream_StopsOnBrokenClient(t *testing.T) {
	bw := &brokenWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	es := &eventStream{w: bufio.NewWriter(bw), cancel: cancel, requestID: "req"}
	es.send("progress", Progress{Stage: StageValidate, Percent: 10})

	assert.True(t, es.closed)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 1, bw.writes)

	es.send("complete", Result{Success: true})
	assert.Equal(t, 1, bw.writes)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
