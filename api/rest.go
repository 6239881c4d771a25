// Package api is the illustrative HTTP surface over the program
// management services: an Echo server with the standard middleware
// stack, an opaque-principal header in place of real authentication, and
// conventional status mapping from the domain error kinds.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"ironclad.dev/dpm/apperrors"
)

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	Port            int
	Debug           bool
	BodyLimit       string // e.g. "10M"
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       float64 // requests per second, 0 = no limit
}

// DefaultServerConfig returns a config with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// NewEchoServer creates an Echo server with the standard middleware
// stack: logging, panic recovery, body limit, CORS, request IDs, and
// optional rate limiting.
func NewEchoServer(config ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug
	e.HTTPErrorHandler = httpErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	if config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.BodyLimit))
	}
	if len(config.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: config.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodDelete, http.MethodPatch, http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
				echo.HeaderAuthorization, principalHeader,
			},
		}))
	}
	e.Use(middleware.RequestID())
	if config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(config.RateLimit),
		)))
	}
	e.Use(PrincipalMiddleware())
	return e
}

// StartServer starts the server with configured timeouts; it blocks
// until shutdown.
func StartServer(e *echo.Echo, config ServerConfig) error {
	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return e.StartServer(s)
}

// GracefulShutdown drains in-flight requests before stopping.
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.Shutdown(ctx)
}

// principalHeader carries the opaque principal ID. Authentication is an
// external collaborator; the service only needs an identity string for
// ownership checks.
const principalHeader = "X-Principal-ID"

const principalContextKey = "dpm.principal"

// PrincipalMiddleware extracts the opaque principal into the request
// context. Requests without one proceed as anonymous; ownership checks
// reject them where ownership matters.
func PrincipalMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(principalContextKey, c.Request().Header.Get(principalHeader))
			return next(c)
		}
	}
}

// Principal returns the request's opaque principal ID, "" if anonymous.
func Principal(c echo.Context) string {
	if v, ok := c.Get(principalContextKey).(string); ok {
		return v
	}
	return ""
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// statusFor maps domain error kinds onto HTTP statuses.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindValidation, apperrors.KindCyclicNetwork:
		return http.StatusBadRequest
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindJiraTransport:
		return http.StatusBadGateway
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	case apperrors.KindSyncDisabled, apperrors.KindIntegrationNotFound, apperrors.KindConflict:
		// Recorded as ignored; the operation itself succeeded.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorHandler renders any error as a JSON body with the
// conventional status.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorResponse{Error: http.StatusText(code), Message: err.Error()}

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		body.Error = http.StatusText(code)
		if msg, ok := he.Message.(string); ok {
			body.Message = msg
		}
	} else if kind := apperrors.KindOf(err); kind != "" {
		code = statusFor(kind)
		body.Error = http.StatusText(code)
		body.Code = string(kind)
		body.Message = err.Error()
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}
