// Package shield holds the HTTP middleware placed in front of the viewtrans
// control API: security headers, a request body cap and request IDs.
//
//	r := chi.NewRouter()
//	r.Use(shield.Stack(logger)...)
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"
	// RequestIDKey is the context key for the request ID.
	RequestIDKey contextKey = "shield_request_id"
)

// DefaultMaxBody bounds JSON request bodies on the control API.
const DefaultMaxBody = 1 << 20

// Stack returns the default middleware chain, outermost first.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultMaxBody),
		RequestID(logger),
	}
}

// GetLogger retrieves the per-request logger. Returns slog.Default() when
// the request did not pass through RequestID.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetRequestID returns the request ID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
