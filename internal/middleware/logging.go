package middleware

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// statusWriter captures the status code while staying transparent to
// streaming handlers: Flush and Hijack forward to the underlying writer so
// MJPEG responses and websocket upgrades work through the logger.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RequestLogger assigns each request a uuid correlation id, echoes it as
// X-Request-ID and logs one line per completed request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		start := time.Now()

		w.Header().Set("X-Request-ID", reqID)
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(withRequestID(r.Context(), reqID)))

		log.Printf("[REQ:%s] %s %s %d %v", reqID, r.Method, r.URL.Path, sw.status, time.Since(start).Round(time.Millisecond))
	})
}
