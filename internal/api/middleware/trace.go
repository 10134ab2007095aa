package middleware

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/crate-api/internal/api/shared"
	"github.com/phrazzld/crate-api/internal/platform/logger"
)

// TraceMiddleware adds a trace ID to the request context, along with a
// request-scoped logger carrying it. Apply it early in the middleware
// chain so every subsequent handler can correlate its logs.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())

		requestLogger := slog.Default().With(
			slog.String("trace_id", shared.GetTraceID(ctx)))
		ctx = logger.WithLogger(ctx, requestLogger)

		requestLogger.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
