package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

// accessTokenParam carries the token for websocket upgrades, where browsers
// cannot set an Authorization header.
const accessTokenParam = "access_token"

// JWTMiddleware authenticates the request and stores the caller in both the
// request context and the echo context ("user_id", "user_roles").
func JWTMiddleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := issuer.Parse(tokenStr)
			if err != nil {
				return apierror.Unauthorized("invalid or expired token")
			}
			userID, _ := claims.UserID()

			c.Set("user_id", userID)
			c.Set("user_roles", claims.Roles)
			ctx := WithUser(c.Request().Context(), userID, claims.Roles)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		if tok := c.QueryParam(accessTokenParam); tok != "" && c.IsWebSocket() {
			return tok, nil
		}
		return "", apierror.Unauthorized("missing authorization header")
	}

	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", apierror.Unauthorized("invalid authorization format")
	}
	return tok, nil
}

func WithUser(ctx context.Context, userID int64, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, UserRolesKey, roles)
}

func UserIDFromContext(ctx context.Context) int64 {
	v, _ := ctx.Value(UserIDKey).(int64)
	return v
}

func RolesFromContext(ctx context.Context) []string {
	v, _ := ctx.Value(UserRolesKey).([]string)
	return v
}

func HasRole(ctx context.Context, role string) bool {
	for _, r := range RolesFromContext(ctx) {
		if r == role {
			return true
		}
	}
	return false
}

func IsAdmin(ctx context.Context) bool {
	return HasRole(ctx, RoleAdmin)
}
