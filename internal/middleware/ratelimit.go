package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/ts-ppe/internal/ratelimit"
)

// LoginLimiter throttles credential attempts per hashed client address.
// Redis being down degrades to letting requests through; the account
// lockout behind the handler still bounds a sustained guessing run.
type LoginLimiter struct {
	Limiter *ratelimit.Limiter
	Limit   ratelimit.Limit
}

func (m *LoginLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "rl:login:" + m.Limiter.HashIP(clientIP(r))
		d, err := m.Limiter.Check(r.Context(), key, m.Limit)
		if err != nil {
			log.Printf("[RATELIMIT] check failed, letting request through: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			deny(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
