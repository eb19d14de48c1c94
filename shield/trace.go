package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/livepick/idgen"
	"github.com/hazyhaar/livepick/kit"
)

// RequestID reuses the caller's X-Request-ID or mints one, and injects
// it into the context (kit.RequestIDKey), the response headers and a
// per-request logger stored under LoggerKey.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = idgen.New()
			}
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithTransport(ctx, "http")
			w.Header().Set("X-Request-ID", id)

			reqLogger := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("shield: request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
