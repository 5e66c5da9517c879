package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// RetryAfterSeconds is advertised on 503 responses so clients back off
// while the store or the HR directory is unreachable.
const RetryAfterSeconds = "5"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders handler errors as ErrorBody. 5xx errors are logged;
// 503 responses carry Retry-After.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		rid, _ := c.Get("request_id").(string)
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", rid).
				Int("status", code).
				Msg("request failed")
		}
		if code == http.StatusServiceUnavailable {
			c.Response().Header().Set("Retry-After", RetryAfterSeconds)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, ErrorBody{Error: msg, RequestID: rid})
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
