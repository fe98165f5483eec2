package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// probePaths are polled by the orchestrator every few seconds and only
// logged when they fail.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true}

// WithAccessLog logs one line per request. 5xx responses are logged at error
// level and 4xx at warn. The user and role come from the headers the gateway
// sets after verifying the token.
func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			level := accessLogLevel(sw.status)
			if probePaths[r.URL.Path] && level == slog.LevelInfo {
				return
			}
			attrs := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if uid := r.Header.Get("X-User-Id"); uid != "" {
				attrs = append(attrs, "user_id", uid, "role", r.Header.Get("X-Role"))
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}

func accessLogLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
