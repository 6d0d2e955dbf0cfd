package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arbiterhq/arbiter/internal/model"
)

func passThrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func staticKey(key string) KeyFunc {
	return func(*http.Request) string { return key }
}

func TestMiddlewareDenies(t *testing.T) {
	m := NewMemoryLimiter(10, 1)
	defer closeLimiter(t, m)

	h := Middleware(m, staticKey("client:abc"), nil)(passThrough())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/decisions", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got status %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q, want %q", got, "1")
	}

	var body model.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body.Error.Code != model.ErrCodeRateLimited {
		t.Fatalf("error code = %q, want %q", body.Error.Code, model.ErrCodeRateLimited)
	}
}

func TestMiddlewareEmptyKeySkips(t *testing.T) {
	m := NewMemoryLimiter(10, 1)
	defer closeLimiter(t, m)

	h := Middleware(m, staticKey(""), nil)(passThrough())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d, want 200 (empty key skips limiting)", i, rec.Code)
		}
	}
}

func TestMiddlewareNilLimiterSkips(t *testing.T) {
	h := Middleware(nil, staticKey("client:abc"), nil)(passThrough())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

// brokenLimiter always errors, to exercise the fail-open path.
type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("limiter backend down")
}

func (brokenLimiter) Close() error { return nil }

func TestMiddlewareFailsOpen(t *testing.T) {
	h := Middleware(brokenLimiter{}, staticKey("client:abc"), nil)(passThrough())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200 (limiter errors fail open)", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"203.0.113.7:51234", "203.0.113.7"},
		{"[2001:db8::1]:443", "[2001:db8::1]"},
		{"203.0.113.7", "203.0.113.7"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.remoteAddr
		if got := IPKeyFunc(r); got != tc.want {
			t.Errorf("IPKeyFunc(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
