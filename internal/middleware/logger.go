// Package middleware provides reusable HTTP middleware for the API server.
package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/imagevault/service/internal/logging"
)

// wrappedWriter captures the status code written by downstream handlers.
type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *wrappedWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logger returns middleware that logs method, path, status, duration and request id.
func Logger(l *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &wrappedWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			keyvals := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
			}
			if id := chiMiddleware.GetReqID(r.Context()); id != "" {
				keyvals = append(keyvals, "request_id", id)
			}

			switch {
			case ww.statusCode >= http.StatusInternalServerError:
				l.Error("request", keyvals...)
			case ww.statusCode >= http.StatusBadRequest:
				l.Warn("request", keyvals...)
			default:
				l.Info("request", keyvals...)
			}
		})
	}
}
