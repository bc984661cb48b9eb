package artifacts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/artifacts/internal/middleware"
)

// BundlePath is the bundle route relative to the API group
const BundlePath = "/artifacts/bundle"

// Handler serves bundle requests over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates a bundle handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the handler on router
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Post(BundlePath, h.Bundle)
}

// Bundle handles POST /artifacts/bundle. The response is a single JSON
// document, or an event stream when the request asks for streaming.
func (h *Handler) Bundle(c *fiber.Ctx) error {
	requestID := requestIDFrom(c)

	var req Request
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, validationError(fmt.Errorf("invalid request body: %w", err)), requestID)
	}
	c.Locals("artifact_id", req.ArtifactID)
	c.Locals("session_id", req.SessionID)

	caller := Caller{
		Token:     bearerToken(c.Get(fiber.HeaderAuthorization)),
		IP:        c.IP(),
		RequestID: requestID,
	}

	if req.Streaming {
		return h.stream(c, &req, caller)
	}

	res, err := h.service.Bundle(c.UserContext(), &req, caller, nil)
	if err != nil {
		return h.sendError(c, AsBundleError(err), requestID)
	}
	c.Locals("cache_hit", res.CacheHit)
	return c.JSON(res)
}

func (h *Handler) sendError(c *fiber.Ctx, be *BundleError, requestID string) error {
	if be.RetryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(be.RetryAfter))
	}
	return c.Status(be.Status).JSON(be.Body(requestID))
}

// stream runs the pipeline inside the response body writer. Everything read
// from c is captured before the writer runs, since fasthttp recycles the
// context once the handler returns.
func (h *Handler) stream(c *fiber.Ctx, req *Request, caller Caller) error {
	ctx := middleware.DetachedContext(c)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		es := &eventStream{w: w, cancel: cancel, requestID: caller.RequestID}
		res, err := h.service.Bundle(ctx, req, caller, func(p Progress) {
			es.send("progress", p)
		})
		if err != nil {
			es.send("error", AsBundleError(err).Body(caller.RequestID))
			return
		}
		es.send("complete", res)
	})
	return nil
}

// eventStream writes server-sent events until the client goes away
type eventStream struct {
	w         *bufio.Writer
	cancel    context.CancelFunc
	requestID string
	closed    bool
}

// send writes one event. After a failed write the stream is closed, the
// pipeline context is cancelled and later events are dropped.
func (es *eventStream) send(event string, data any) {
	if es.closed {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to encode stream event")
		return
	}

	if _, err := fmt.Fprintf(es.w, "event: %s\ndata: %s\n\n", event, payload); err == nil {
		err = es.w.Flush()
		if err == nil {
			return
		}
	}

	es.closed = true
	es.cancel()
	log.Debug().Str("request_id", es.requestID).Str("event", event).Msg("Client disconnected from bundle stream")
}

func requestIDFrom(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		return id
	}
	if id := c.Get(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
