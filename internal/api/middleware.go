package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/spice-suggest/internal/common"
)

// LoggerMiddleware writes one access log line per request.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Handler panicked", "path", c.Request.URL.Path, "panic", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		c.Next()
	}
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrRegistryConflict):
		return http.StatusConflict, "registry_conflict"
	case errors.Is(err, common.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, common.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, errorBody{Error: err.Error(), Kind: kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "invalid_input"})
}
