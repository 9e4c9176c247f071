package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders sets the response headers a JSON API serving health data
// should always send. Prescription downloads keep their own Content-Type but
// still must not be cached by shared proxies.
func SecurityHeaders(hsts bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")

			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			if strings.HasSuffix(c.Request().URL.Path, "/download") {
				h.Set("Cache-Control", "private, no-store")
			} else {
				h.Set("Cache-Control", "no-store")
			}

			return next(c)
		}
	}
}
