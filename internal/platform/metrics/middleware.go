package metrics

import (
	"net/http"
)

// statusWriter remembers the status code a handler responded with.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// RequestMiddleware returns chi-compatible middleware that counts every
// request and every error response (status >= 400) in m.
func RequestMiddleware(m *Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			m.IncRequests()
			if sw.status >= http.StatusBadRequest {
				m.IncErrors()
			}
		}
		return http.HandlerFunc(fn)
	}
}
