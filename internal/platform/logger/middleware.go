package logger

import (
	"log/slog"
	"net/http"
	"time"
)

// loggingWriter records the status code and body size of a response.
type loggingWriter struct {
	http.ResponseWriter
	status int
	size   int
	wrote  bool
}

func (w *loggingWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// RequestLogger returns a chi-compatible middleware that logs one line per
// request with method, path, status, duration_ms, size, and remote address.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(lw, r)

			log.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", lw.status),
				slog.Int("duration_ms", int(time.Since(start).Milliseconds())),
				slog.Int("size", lw.size),
				slog.String("remote", r.RemoteAddr),
			)
		}
		return http.HandlerFunc(fn)
	}
}
