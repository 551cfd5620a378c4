package gateway_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/basket/chatgate/internal/config"
	"github.com/basket/chatgate/internal/gateway"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORS_PreflightHeaders(t *testing.T) {
	wrap := gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         7200,
	}, config.AuthConfig{})
	handler := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/chat/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("unexpected origin %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Fatalf("unexpected methods %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "7200" {
		t.Fatalf("unexpected max-age %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Trace-Id" {
		t.Fatalf("unexpected headers without auth %q", got)
	}
}

func TestCORS_AllowedHeadersFollowAuth(t *testing.T) {
	wrap := gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
	}, config.AuthConfig{Enabled: true})
	handler := wrap(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Trace-Id, Authorization, X-API-Key" {
		t.Fatalf("unexpected headers with auth %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected origin %q", got)
	}

	// Explicit configuration wins over the derived list.
	handler = gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Content-Type"},
	}, config.AuthConfig{Enabled: true})(okHandler)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Fatalf("expected configured headers, got %q", got)
	}
}

func TestCORS_SimpleRequestExposesTraceID(t *testing.T) {
	handler := gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://example.com"},
	}, config.AuthConfig{})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Trace-Id") {
		t.Fatalf("expected X-Trace-Id exposed, got %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("expected Vary: Origin, got %q", got)
	}
}

func TestCORS_PlainOptionsReachesRouter(t *testing.T) {
	handler := gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"*"},
	}, config.AuthConfig{})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected non-preflight OPTIONS to reach the handler, got %d", rec.Code)
	}
}

func TestCORS_DisallowedOriginGetsNoHeaders(t *testing.T) {
	handler := gateway.NewCORSMiddleware(config.CORSConfig{
		Enabled:        true,
		AllowedOrigins: []string{"https://allowed.com"},
	}, config.AuthConfig{})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Origin", "https://evil.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS header, got %q", got)
	}
}

func TestCORS_DisabledPassesThrough(t *testing.T) {
	handler := gateway.NewCORSMiddleware(config.CORSConfig{}, config.AuthConfig{})(okHandler)
	req := httptest.NewRequest(http.MethodOptions, "/chat/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through 200, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	am := gateway.NewAuthMiddleware(config.AuthConfig{
		Enabled: true,
		Keys:    []config.APIKeyEntry{{Name: "ci", Key: "secret-1"}},
	})
	var seenName string
	handler := am.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenName = gateway.KeyNameFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		value  string
		want   int
	}{
		{name: "missing", path: "/sessions", want: http.StatusUnauthorized},
		{name: "wrong key", path: "/sessions", header: "X-API-Key", value: "nope", want: http.StatusForbidden},
		{name: "bearer", path: "/sessions", header: "Authorization", value: "Bearer secret-1", want: http.StatusOK},
		{name: "x-api-key", path: "/sessions", header: "X-API-Key", value: "secret-1", want: http.StatusOK},
		{name: "query param", path: "/ws?api_key=secret-1", want: http.StatusOK},
		{name: "healthz skips auth", path: "/healthz", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seenName = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusOK && tt.path != "/healthz" && seenName != "ci" {
				t.Fatalf("expected key name ci in context, got %q", seenName)
			}
		})
	}
}

func TestAuth_DisabledPassesThrough(t *testing.T) {
	handler := gateway.NewAuthMiddleware(config.AuthConfig{}).Wrap(okHandler)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         3,
	})
	handler := rl.Wrap(okHandler)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("burst request %d: expected 200, got %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for second client, got %d", rec.Code)
	}
}

func TestRateLimit_RotatingUnverifiedKeysShareIPBucket(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         2,
	})
	handler := rl.Wrap(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.RemoteAddr = "10.0.0.9:4000"
		req.Header.Set("X-API-Key", fmt.Sprintf("junk-%d", i))
		req.Header.Set("Authorization", fmt.Sprintf("Bearer junk-%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request from one address to be limited, got %v", codes)
	}
	if n := rl.BucketCount(); n != 1 {
		t.Fatalf("expected a single bucket for one address, got %d", n)
	}
}

func TestRateLimit_AuthenticatedKeyOwnsBucket(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         1,
	})
	am := gateway.NewAuthMiddleware(config.AuthConfig{
		Enabled: true,
		Keys: []config.APIKeyEntry{
			{Name: "alpha", Key: "secret-a"},
			{Name: "beta", Key: "secret-b"},
		},
	})
	handler := am.Wrap(rl.Wrap(okHandler))

	send := func(key, addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.RemoteAddr = addr
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("secret-a", "10.0.0.1:1"); got != http.StatusOK {
		t.Fatalf("alpha first: expected 200, got %d", got)
	}
	// Same key from another address still drains alpha's bucket.
	if got := send("secret-a", "10.0.0.2:1"); got != http.StatusTooManyRequests {
		t.Fatalf("alpha from second address: expected 429, got %d", got)
	}
	if got := send("secret-b", "10.0.0.1:1"); got != http.StatusOK {
		t.Fatalf("beta: expected 200, got %d", got)
	}
	// Rejected keys never reach the limiter.
	if got := send("junk", "10.0.0.1:1"); got != http.StatusForbidden {
		t.Fatalf("junk key: expected 403, got %d", got)
	}
	if n := rl.BucketCount(); n != 2 {
		t.Fatalf("expected one bucket per key name, got %d", n)
	}
}

func TestRateLimit_EvictStale(t *testing.T) {
	rl := gateway.NewRateLimitMiddleware(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, BurstSize: 5})
	handler := rl.Wrap(okHandler)
	for _, addr := range []string{"10.0.0.1:80", "10.0.0.2:80"} {
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if n := rl.BucketCount(); n != 2 {
		t.Fatalf("expected 2 buckets, got %d", n)
	}
	rl.EvictStale(time.Hour)
	if n := rl.BucketCount(); n != 2 {
		t.Fatalf("fresh buckets evicted, got %d", n)
	}
	rl.EvictStale(-time.Second)
	if n := rl.BucketCount(); n != 0 {
		t.Fatalf("expected all buckets evicted, got %d", n)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := gateway.NewTokenBucket(6000, 1) // 100 tokens/s
	if !tb.Allow() {
		t.Fatal("first request should pass")
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}
	time.Sleep(30 * time.Millisecond)
	if !tb.Allow() {
		t.Fatal("bucket should have refilled")
	}
}

func TestRequestSizeLimit(t *testing.T) {
	handler := gateway.RequestSizeLimitMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tooLarge *http.MaxBytesError
		if _, err := io.ReadAll(r.Body); errors.As(err, &tooLarge) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat/", strings.NewReader(strings.Repeat("x", 100))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
