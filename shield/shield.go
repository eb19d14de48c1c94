// Package shield provides the HTTP middleware stack of the preview
// server: security headers, body limits, request ids and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// MaxBodyBytes bounds request bodies. Generated sources are rarely
// larger than a few hundred KiB.
const MaxBodyBytes = 4 << 20

// Stack returns the standard middleware stack, outermost first:
// HeadToGet → SecurityHeaders → MaxBody → RequestID.
func Stack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(PreviewHeaders()),
		MaxBody(MaxBodyBytes),
		RequestID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
