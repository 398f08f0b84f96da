package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coursechat/internal/logging"
	"github.com/fyrsmithlabs/coursechat/internal/rag"
)

// statusFor maps a core error to an HTTP status. Deadlines are checked first
// so a timed-out model call reports 504 rather than 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rag.ErrInvalidQuery),
		errors.Is(err, rag.ErrInvalidDocument),
		errors.Is(err, rag.ErrInvalidTopK):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrReferenceNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrEmbeddingGeneration),
		errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as {"error": "..."}. Internal errors are
// logged and never echoed to the client.
func errorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := http.StatusText(status)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(status)
			}
		} else {
			status = statusFor(err)
			if status != http.StatusInternalServerError {
				msg = err.Error()
			}
		}

		ctx := c.Request().Context()
		if status >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed", zap.Int("status", status), zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, ErrorResponse{Error: msg})
	}
}
