package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"wabridge/platform/logger"
)

// responseWriter captures status code and response size for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// HTTPLogger logs every processed request with its outcome.
func HTTPLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			fields := map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status_code": ww.statusCode,
				"duration_ms": time.Since(start).Milliseconds(),
				"size_bytes":  ww.size,
				"ip":          getClientIP(r),
			}

			message := "HTTP request processed"
			switch {
			case ww.statusCode >= 500:
				log.ErrorWithFields(message, fields)
			case ww.statusCode >= 400:
				log.WarnWithFields(message, fields)
			default:
				if r.URL.Path == "/health" {
					log.DebugWithFields(message, fields)
				} else {
					log.InfoWithFields(message, fields)
				}
			}
		})
	}
}

// Recoverer converts handler panics into 500 responses.
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.ErrorWithFields("HTTP handler panic", map[string]interface{}{
						"error":  err,
						"method": r.Method,
						"path":   r.URL.Path,
						"ip":     getClientIP(r),
						"stack":  string(debug.Stack()),
					})
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
