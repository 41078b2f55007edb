package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// correlationIDMiddleware extracts or generates a correlation ID for
// request tracking, mirroring the teacher's middleware chain.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Request-ID")
		if correlationID == "" {
			correlationID = r.Header.Get("X-Correlation-ID")
		}
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := context.WithValue(r.Context(), correlationIDKey, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs every request at a level selected by its
// response status, the way the teacher's loggingMiddleware does.
func loggingMiddleware(logger arbor.ILogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			durationMs := time.Since(start).Milliseconds()
			correlationID, _ := r.Context().Value(correlationIDKey).(string)

			var logEvent arbor.ILogEvent
			switch {
			case rw.statusCode >= 500:
				logEvent = logger.Error()
			case rw.statusCode >= 400:
				logEvent = logger.Warn()
			default:
				logEvent = logger.Trace()
			}

			logEvent.
				Str("correlation_id", correlationID).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int64("duration_ms", durationMs).
				Msg("HTTP request")
		})
	}
}

// recoveryMiddleware recovers from panics and returns 500, the way the
// teacher's recoveryMiddleware does.
func recoveryMiddleware(logger arbor.ILogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					correlationID, _ := r.Context().Value(correlationIDKey).(string)
					logger.Error().
						Str("correlation_id", correlationID).
						Str("error", fmt.Sprintf("%v", err)).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
// written, so the logging middleware can log it after the fact.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
