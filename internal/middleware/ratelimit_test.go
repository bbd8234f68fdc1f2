package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-ppe/internal/middleware"
	"github.com/technosupport/ts-ppe/internal/ratelimit"
)

func TestLoginLimiter(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "salt")

	lm := &middleware.LoginLimiter{Limiter: limiter, Limit: ratelimit.Limit{Rate: 2, Window: time.Minute}}
	h := lm.Wrap(okHandler())

	post := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/company/COMP_A/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	// 1. Two attempts pass, the third is throttled with headers.
	if w := post("1.2.3.4:555"); w.Code != http.StatusOK {
		t.Fatalf("first: %d", w.Code)
	}
	if w := post("1.2.3.4:555"); w.Code != http.StatusOK {
		t.Fatalf("second: %d", w.Code)
	}
	w := post("1.2.3.4:555")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("third: expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Remaining") != "0" || w.Header().Get("Retry-After") == "" {
		t.Errorf("missing limit headers: %v", w.Header())
	}

	// 2. A different address has its own window.
	if w := post("5.6.7.8:555"); w.Code != http.StatusOK {
		t.Errorf("other address throttled: %d", w.Code)
	}
}

func TestLoginLimiter_ForwardedFor(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "salt")

	lm := &middleware.LoginLimiter{Limiter: limiter, Limit: ratelimit.Limit{Rate: 1, Window: time.Minute}}
	h := lm.Wrap(okHandler())

	// Both requests come from different proxy sockets but the same client.
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("POST", "/company/COMP_A/login", nil)
		req.RemoteAddr = "10.0.0." + string(rune('1'+i)) + ":999"
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: expected %d, got %d", i+1, want, w.Code)
		}
	}
}

func TestLoginLimiter_RedisDownFailsOpen(t *testing.T) {
	mr, _ := miniredis.Run()
	addr := mr.Addr()
	mr.Close()
	limiter := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: addr}), "salt")

	lm := &middleware.LoginLimiter{Limiter: limiter, Limit: ratelimit.Limit{Rate: 1, Window: time.Minute}}
	w := httptest.NewRecorder()
	lm.Wrap(okHandler()).ServeHTTP(w, httptest.NewRequest("POST", "/login", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected fail-open 200, got %d", w.Code)
	}
}
