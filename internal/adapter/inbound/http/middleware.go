package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/projectm/lms-session/internal/ctxkey"
)

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using ctxkey.RequestIDKey and the
// enriched logger using ctxkey.LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			enrichedLogger.Debug("ops request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
