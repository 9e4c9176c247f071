package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

// RequireRole passes requests whose caller holds one of roles. Admins always pass.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if IsAdmin(ctx) {
				return next(c)
			}
			for _, required := range roles {
				if HasRole(ctx, required) {
					return next(c)
				}
			}
			return apierror.Forbidden("required role: %s", strings.Join(roles, " or "))
		}
	}
}
