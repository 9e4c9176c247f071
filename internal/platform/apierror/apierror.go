// Package apierror defines the error shape every endpoint returns:
// {"status_code": 404, "status": "Not Found", "message": "..."}.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Error struct {
	StatusCode int    `json:"status_code"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Status, e.Message)
}

func New(code int, format string, args ...any) *Error {
	return &Error{
		StatusCode: code,
		Status:     http.StatusText(code),
		Message:    fmt.Sprintf(format, args...),
	}
}

func BadRequest(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return New(http.StatusConflict, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an
// *Error anywhere in its chain.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func Is(err error, code int) bool {
	return StatusCode(err) == code
}

// From converts any error into the wire shape. Unknown errors become a
// generic 500 so infrastructure details never leak to clients.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return &Error{StatusCode: he.Code, Status: http.StatusText(he.Code), Message: msg}
	}
	return New(http.StatusInternalServerError, "internal server error")
}

// HTTPErrorHandler renders errors returned from handlers and middleware.
// 5xx responses are logged with the underlying cause.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		apiErr := From(err)
		if apiErr.StatusCode >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(apiErr.StatusCode)
		} else {
			writeErr = c.JSON(apiErr.StatusCode, apiErr)
		}
		if writeErr != nil {
			logger.Warn().Err(writeErr).Msg("write error response")
		}
	}
}
