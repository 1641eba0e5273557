package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestKeyByClientOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req

	if key := KeyByClientOrIP()(c); !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("expected ip-based key; got %q", key)
	}

	req.Header.Set(HeaderClientID, "ops-console")
	if key := KeyByClientOrIP()(c); key != "client:ops-console" {
		t.Fatalf("expected client-based key; got %q", key)
	}

	req.Header.Set(HeaderClientID, strings.Repeat("x", maxClientIDLen+1))
	if key := KeyByClientOrIP()(c); !strings.HasPrefix(key, "ip:") {
		t.Fatalf("oversized client id must fall back to ip; got %q", key)
	}
}

func TestRateLimiter_BucketsPerKey(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByClientOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst=%d; want 1", rl.burst)
	}
	now := time.Now()
	a := rl.limiterFor("client:a", now)
	if rl.limiterFor("client:a", now.Add(time.Second)) != a {
		t.Fatalf("bucket not reused")
	}
	if rl.limiterFor("client:b", now) == a {
		t.Fatalf("distinct keys share a bucket")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByClientOrIP())
	t0 := time.Now()

	rl.limiterFor("idle", t0)
	rl.limiterFor("busy", t0)

	// Inside the window nothing is swept, even though "busy" keeps coming.
	rl.limiterFor("busy", t0.Add(rl.idleTTL/2))
	if len(rl.buckets) != 2 {
		t.Fatalf("swept early: %d buckets", len(rl.buckets))
	}

	rl.limiterFor("busy", t0.Add(rl.idleTTL+time.Second))
	if _, ok := rl.buckets["idle"]; ok {
		t.Fatalf("idle bucket survived the sweep")
	}
	if _, ok := rl.buckets["busy"]; !ok {
		t.Fatalf("active bucket was evicted")
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=true when set")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("expected IsRateBypass=false when non-bool stored")
	}
}

func TestRetryAfter_ReflectsRefillRate(t *testing.T) {
	now := time.Now()

	slow := rate.NewLimiter(rate.Every(5*time.Second), 1)
	slow.AllowN(now, 1)
	if got := retryAfter(slow, now); got != 5 {
		t.Fatalf("retryAfter slow = %d; want 5", got)
	}
	// Cancelled reservations hand the token back.
	if got := retryAfter(slow, now); got != 5 {
		t.Fatalf("retryAfter must not consume tokens, got %d", got)
	}

	fast := rate.NewLimiter(10, 1)
	fast.AllowN(now, 1)
	if got := retryAfter(fast, now); got != 1 {
		t.Fatalf("retryAfter fast = %d; want 1", got)
	}

	if got := retryAfter(rate.NewLimiter(0, 0), now); got != 1 {
		t.Fatalf("retryAfter zero limiter = %d; want 1", got)
	}
}

func TestRateLimiter_Handler_Allow_Deny_And_Bypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(1.0, 1, KeyByClientOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	limited := httpRateLimited.WithLabelValues("GET", "/ok")
	base := testutil.ToFloat64(limited)

	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w1.Code != http.StatusOK {
		t.Fatalf("first request should be allowed, got %d", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be rate-limited, got %d", w2.Code)
	}
	if n, err := strconv.Atoi(w2.Header().Get("Retry-After")); err != nil || n < 1 {
		t.Fatalf("expected positive Retry-After, got %q", w2.Header().Get("Retry-After"))
	}
	var body map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["retry"] != "as_is" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected JSON body: %v", body)
	}
	if got := testutil.ToFloat64(limited); got != base+1 {
		t.Fatalf("rate limited counter = %v; want %v", got, base+1)
	}

	// Another caller has its own bucket.
	req3 := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req3.Header.Set(HeaderClientID, "batch-job")
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusOK {
		t.Fatalf("separate client should be allowed, got %d", w3.Code)
	}

	rBypass := gin.New()
	rBypass.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	rBypass.Use(rl.Handler())
	rBypass.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w4 := httptest.NewRecorder()
	rBypass.ServeHTTP(w4, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w4.Code != http.StatusOK {
		t.Fatalf("bypass request should be allowed, got %d", w4.Code)
	}
}
