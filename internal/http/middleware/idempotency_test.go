package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func rerouteScope(c *gin.Context) (string, bool) {
	if id := c.Param("id"); id != "" {
		return "reroute:" + id, true
	}
	return "", false
}

func TestHelpers_GetIdempotencyKey_IsReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	called := false
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		called = true
		return true, nil
	}
	r.Use(IdempotencyValidator(IdempotencyOptions{}, rerouteScope, lookup))
	r.POST("/prescriptions/:id/reroute", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present when header missing")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/prescriptions/7/reroute", nil))
	if w.Code != http.StatusNoContent || called {
		t.Fatalf("code=%d lookupCalled=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_RejectsMalformedKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc"},
		{"default pattern", IdempotencyOptions{}, "has space/slash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(RequestID(), IdempotencyValidator(tc.opts, nil, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["retry"] != "never" || body["request_id"] == "" {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_LookupMissHitAndError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	type seen struct{ scope, key string }
	var got []seen
	results := map[string]struct {
		done bool
		err  error
	}{
		"miss": {false, nil},
		"hit":  {true, nil},
		"err":  {true, errors.New("db down")},
	}
	lookup := func(_ context.Context, scope, key string, now time.Time) (bool, error) {
		if now.IsZero() || now.Location() != time.UTC {
			t.Fatalf("lookup time must be UTC, got %v", now)
		}
		got = append(got, seen{scope, key})
		res := results[key]
		return res.done, res.err
	}

	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, rerouteScope, lookup))
	r.POST("/prescriptions/:id/reroute", func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": k, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	})
	r.POST("/unscoped", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"replay": IsReplay(c)})
	})

	do := func(path, key string) map[string]any {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderIdempotencyKey, "  "+key+" ")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		return body
	}

	if b := do("/prescriptions/9/reroute", "miss"); b["replay"] != false || b["key"] != "miss" {
		t.Fatalf("miss: %v", b)
	}
	if b := do("/prescriptions/9/reroute", "hit"); b["replay"] != true || b["bypass"] != true {
		t.Fatalf("hit: %v", b)
	}
	if b := do("/prescriptions/9/reroute", "err"); b["replay"] != false {
		t.Fatalf("lookup errors must not mark replays: %v", b)
	}
	if b := do("/unscoped", "hit"); b["replay"] != false {
		t.Fatalf("unscoped route: %v", b)
	}

	if len(got) != 3 || got[0].scope != "reroute:9" || got[1].key != "hit" {
		t.Fatalf("lookup calls: %+v", got)
	}
}

func TestRequireIdempotencyKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil, nil))
	r.POST("/reroute", RequireIdempotencyKey(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reroute", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing key: %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["code"] != "idempotency_key_required" {
		t.Fatalf("body: %v", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/reroute", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("with key: %d", w.Code)
	}
}
