// AngelaMos | 2026
// logger.go

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				attrs := []any{
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", GetRequestID(r.Context()),
				}
				if traceID := core.TraceIDFromContext(r.Context()); traceID != "" {
					attrs = append(attrs, "trace_id", traceID)
				}
				if userID := GetUserID(r.Context()); userID != "" {
					attrs = append(attrs, "user_id", userID)
				}

				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request", attrs...)
				case status >= http.StatusBadRequest:
					logger.Warn("request", attrs...)
				default:
					logger.Info("request", attrs...)
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
