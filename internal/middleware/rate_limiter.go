package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/memory/v2"
)

// RateLimiterConfig configures a per-instance request limiter. Bundle
// quotas that must hold across instances use the ratelimit package.
type RateLimiterConfig struct {
	Max     int
	Window  time.Duration
	KeyFunc func(*fiber.Ctx) string // defaults to the client IP
	Message string
	// Sliding weights the previous window so bursts at a boundary are not doubled
	Sliding bool
}

// NewRateLimiter creates a limiter whose rejections use the API error body
func NewRateLimiter(cfg RateLimiterConfig) fiber.Handler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.", cfg.Max, cfg.Window)
	}

	var strategy limiter.LimiterHandler = limiter.FixedWindow{}
	if cfg.Sliding {
		strategy = limiter.SlidingWindow{}
	}

	return limiter.New(limiter.Config{
		// Preflights carry no credentials and must not burn the budget
		Next:              func(c *fiber.Ctx) bool { return c.Method() == fiber.MethodOptions },
		Max:               cfg.Max,
		Expiration:        cfg.Window,
		KeyGenerator:      cfg.KeyFunc,
		LimiterMiddleware: strategy,
		Storage:           memory.New(memory.Config{GCInterval: 10 * time.Minute}),
		LimitReached: func(c *fiber.Ctx) error {
			// The limiter sets Retry-After before calling us
			retryAfter, err := strconv.Atoi(c.GetRespHeader(fiber.HeaderRetryAfter))
			if err != nil || retryAfter <= 0 {
				retryAfter = int(cfg.Window.Seconds())
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":      false,
				"error":        cfg.Message,
				"retryable":    true,
				"requiresAuth": false,
				"retryAfter":   retryAfter,
				"requestId":    requestIDOf(c),
			})
		},
	})
}

// DownloadLimiter limits signed bundle downloads per IP. Bundles load once
// per iframe mount, so the budget is generous.
func DownloadLimiter(perMinute int) fiber.Handler {
	return NewRateLimiter(RateLimiterConfig{
		Max:     perMinute,
		Window:  time.Minute,
		KeyFunc: func(c *fiber.Ctx) string { return "download:" + c.IP() },
		Message: "Too many bundle downloads. Please wait a minute.",
	})
}

// APILimiter is a per-IP burst guard in front of every API route
func APILimiter(perMinute int) fiber.Handler {
	return NewRateLimiter(RateLimiterConfig{
		Max:     perMinute,
		Window:  time.Minute,
		KeyFunc: func(c *fiber.Ctx) string { return "api:" + c.IP() },
		Message: fmt.Sprintf("API rate limit exceeded. Maximum %d requests per minute allowed.", perMinute),
		Sliding: true,
	})
}
