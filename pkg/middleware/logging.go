package middleware

import (
	"cargolink/pkg/logging"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type loggerKeyType struct{}

var LoggerKey = loggerKeyType{}

// RequestLogger injects a request scoped logger and logs completion.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			attrs := []any{
				logging.RequestID(reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				attrs = append(attrs, logging.TraceID(sc.TraceID().String()))
			}
			reqLog := log.With(attrs...)
			ctx := context.WithValue(r.Context(), LoggerKey, reqLog)
			w.Header().Set("X-Request-ID", reqID)

			wrapped := wrap(w)
			next.ServeHTTP(wrapped, r.WithContext(ctx))
			reqLog.Info("request completed",
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}
