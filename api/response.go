package api

import (
	"errors"
	"net/http"

	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/launch"
	"github.com/getkayan/console/core/product"
	"github.com/getkayan/console/core/ratelimit"
	"github.com/getkayan/console/core/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Response is the envelope of every API response.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respond(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, Response{Status: "success", Message: message, Data: data})
}

// errorMapping pairs a sentinel with its HTTP status and client message.
// Order matters: wrapped sentinels come before the errors they wrap.
var errorMapping = []struct {
	err     error
	code    int
	message string
}{
	{launch.ErrInvalidOrExpired, http.StatusBadRequest, "Token expired, invalid, or already used"},
	{launch.ErrProductNotFound, http.StatusNotFound, "Product not found"},
	{launch.ErrAgentMismatch, http.StatusForbidden, "Security error: Use the same browser"},
	{launch.ErrIPMismatch, http.StatusForbidden, "Security error: Use the same network/IP"},
	{access.ErrUserNotGranted, http.StatusForbidden, "Access denied: You do not have permission to launch this product"},
	{access.ErrTenantNotSubscribed, http.StatusForbidden, "Access denied: Tenant is not subscribed to this product"},
	{access.ErrDenied, http.StatusForbidden, "Access denied"},
	{access.ErrAlreadySubscribed, http.StatusBadRequest, "This tenant is already subscribed to this product"},
	{access.ErrProductMissing, http.StatusNotFound, "Product not found"},
	{access.ErrSubscriptionMissing, http.StatusNotFound, "Tenant product map not found"},
	{session.ErrInvalidSession, http.StatusUnauthorized, "Invalid Session"},
	{session.ErrInvalidVault, http.StatusUnauthorized, "Invalid Session Data"},
	{session.ErrSessionExpired, http.StatusUnauthorized, "Session Expired"},
	{session.ErrInvalidTokenType, http.StatusUnauthorized, "Invalid token type"},
	{session.ErrTenantMissing, http.StatusUnauthorized, "Tenant identity not found"},
	{ratelimit.ErrLimited, http.StatusTooManyRequests, "Too many requests"},
	{domain.ErrConflict, http.StatusBadRequest, "Resource already exists"},
	{domain.ErrNotFound, http.StatusNotFound, "Resource not found"},
}

// ErrorHandler renders errors returned by handlers and middleware in the
// response envelope. Unknown errors are logged and hidden behind a 500.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, message := classify(err)
		if code >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		resp := Response{Status: "error", Message: message}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, resp)
		}
		if err != nil {
			log.Warn("failed to write error response", zap.Error(err))
		}
	}
}

func classify(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	}

	if errors.Is(err, product.ErrInvalid) {
		return http.StatusUnprocessableEntity, err.Error()
	}

	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			return m.code, m.message
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}
