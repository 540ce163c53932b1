package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if key := KeyByUserOrIP()(c); key != "ip:203.0.113.9" {
		t.Fatalf("ip key = %q", key)
	}
	c.Request.Header.Set("X-User-ID", " U123 ")
	if key := KeyByUserOrIP()(c); key != "user:U123" {
		t.Fatalf("user key = %q", key)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 || rl.keyFn == nil {
		t.Fatalf("defaults not applied: burst=%d", rl.burst)
	}
	lim := rl.getVisitor("k1")
	if rl.getVisitor("k1") != lim {
		t.Fatalf("bucket not reused")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["old"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.cleanupN = 4999
	rl.mu.Unlock()

	rl.getVisitor("new")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["old"]; ok {
		t.Fatalf("idle bucket survived cleanup")
	}
	if _, ok := rl.visitors["new"]; !ok {
		t.Fatalf("requested bucket missing")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set("X-User-ID", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	before := testutil.ToFloat64(httpRateLimited)
	if w := do("U1"); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := do("U1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "1" {
		t.Fatalf("second request = %d retry=%q", w.Code, w.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-1" {
		t.Fatalf("body = %v", body)
	}
	if got := testutil.ToFloat64(httpRateLimited); got != before+1 {
		t.Fatalf("rate limited counter = %v, want %v", got, before+1)
	}

	// Buckets are per user.
	if w := do("U2"); w.Code != http.StatusOK {
		t.Fatalf("other user = %d", w.Code)
	}
}
