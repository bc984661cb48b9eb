package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SecurityHeadersConfig holds the response headers a route group sends.
// Empty fields are not sent.
type SecurityHeadersConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	// CrossOriginResourcePolicy governs which sites may embed the response
	CrossOriginResourcePolicy string
	// StrictTransportSecurity is only sent over HTTPS
	StrictTransportSecurity string
}

// APISecurityHeaders returns the headers for JSON and event-stream endpoints.
// Nothing they return is ever rendered, so the CSP denies everything.
func APISecurityHeaders() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentSecurityPolicy:     "default-src 'none'; frame-ancestors 'none'",
		FrameOptions:              "DENY",
		ReferrerPolicy:            "no-referrer",
		PermissionsPolicy:         "geolocation=(), microphone=(), camera=()",
		CrossOriginResourcePolicy: "same-site",
		StrictTransportSecurity:   "max-age=31536000; includeSubDomains",
	}
}

// bundleSandbox lets the document run scripts and open links while keeping it
// in an opaque origin. allow-same-origin is never granted.
var bundleSandbox = []string{"allow-scripts", "allow-popups", "allow-forms", "allow-modals"}

// BundleSecurityHeaders returns the headers for served bundle documents. The
// document carries its own script-src meta policy; the header only adds the
// sandbox and limits who may frame it. No ancestors means any.
func BundleSecurityHeaders(frameAncestors []string) SecurityHeadersConfig {
	csp := "sandbox " + strings.Join(bundleSandbox, " ")

	var ancestors []string
	for _, origin := range frameAncestors {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			ancestors = nil
			break
		}
		ancestors = append(ancestors, origin)
	}
	if len(ancestors) > 0 {
		csp += "; frame-ancestors " + strings.Join(ancestors, " ")
	}

	return SecurityHeadersConfig{
		ContentSecurityPolicy:     csp,
		ReferrerPolicy:            "no-referrer",
		CrossOriginResourcePolicy: "cross-origin",
	}
}

// SecurityHeaders returns a middleware that sets cfg on every response
func SecurityHeaders(cfg SecurityHeadersConfig) fiber.Handler {
	headers := [][2]string{
		{fiber.HeaderContentSecurityPolicy, cfg.ContentSecurityPolicy},
		{fiber.HeaderXFrameOptions, cfg.FrameOptions},
		{fiber.HeaderReferrerPolicy, cfg.ReferrerPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
		{"Cross-Origin-Resource-Policy", cfg.CrossOriginResourcePolicy},
	}

	return func(c *fiber.Ctx) error {
		for _, h := range headers {
			if h[1] != "" {
				c.Set(h[0], h[1])
			}
		}
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		if cfg.StrictTransportSecurity != "" && c.Protocol() == "https" {
			c.Set(fiber.HeaderStrictTransportSecurity, cfg.StrictTransportSecurity)
		}
		c.Set(fiber.HeaderServer, "")
		return c.Next()
	}
}
