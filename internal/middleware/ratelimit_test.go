package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/trustline/trustline/internal/cache"
	"github.com/trustline/trustline/internal/metrics"
)

type fakeLimiter struct {
	result *cache.RateLimitResult
	err    error
	gotIP  string
}

func (f *fakeLimiter) CheckLoginIPRateLimit(_ context.Context, ip string, _, _ int) (*cache.RateLimitResult, error) {
	f.gotIP = ip
	return f.result, f.err
}

func TestRateLimitLogin(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		limiter    *fakeLimiter
		wantStatus int
		wantCount  uint64
	}{
		{
			name:       "allowed",
			enabled:    true,
			limiter:    &fakeLimiter{result: &cache.RateLimitResult{Allowed: true, Remaining: 5, ResetAt: time.Now()}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "limited",
			enabled:    true,
			limiter:    &fakeLimiter{result: &cache.RateLimitResult{Allowed: false, RetryAfter: 7 * time.Second, ResetAt: time.Now()}},
			wantStatus: http.StatusTooManyRequests,
			wantCount:  1,
		},
		{
			name:    "redis down fails open",
			enabled: true,
			limiter: &fakeLimiter{
				result: &cache.RateLimitResult{Allowed: true},
				err:    errors.New("dial tcp: connection refused"),
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "disabled",
			enabled:    false,
			limiter:    &fakeLimiter{result: &cache.RateLimitResult{Allowed: false}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := metrics.NewInMemory()
			mw := RateLimitLogin(RateLimitConfig{
				Logger:            discard(),
				Limiter:           tt.limiter,
				Metrics:           rec,
				Enabled:           tt.enabled,
				RequestsPerMinute: 30,
				Burst:             10,
			})
			h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := rec.Snapshot().RateLimited["login_ip"]; got != tt.wantCount {
				t.Errorf("rate limited count = %d, want %d", got, tt.wantCount)
			}
			if tt.wantStatus == http.StatusTooManyRequests {
				if got := w.Header().Get("Retry-After"); got != "7" {
					t.Errorf("Retry-After = %q, want 7", got)
				}
				if !strings.Contains(w.Body.String(), `"code":"RATE_LIMITED"`) {
					t.Errorf("body = %s", w.Body.String())
				}
			}
		})
	}
}

func TestWriteRateLimited_MinimumRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRateLimited(w, 0)
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{"forwarded chain ignored", "203.0.113.7, 10.0.0.1", "", "10.0.0.1:1234", "10.0.0.1"},
		{"real ip ignored", "", "198.51.100.2", "10.0.0.1:1234", "10.0.0.1"},
		{"remote addr with port", "", "", "192.0.2.10:5555", "192.0.2.10"},
		{"ipv6 remote addr", "", "", "[2001:db8::1]:443", "2001:db8::1"},
		{"remote addr without port", "", "", "192.0.2.11", "192.0.2.11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimitLogin_ForwardedForRotationKeepsKey(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: true, ResetAt: time.Now()}}
	h := RateLimitLogin(RateLimitConfig{
		Logger:            discard(),
		Limiter:           limiter,
		Enabled:           true,
		RequestsPerMinute: 30,
		Burst:             10,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, xff := range []string{"203.0.113.1", "203.0.113.2", "198.51.100.9"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "192.0.2.50:40000"
		req.Header.Set("X-Forwarded-For", xff)
		h.ServeHTTP(httptest.NewRecorder(), req)

		if limiter.gotIP != "192.0.2.50" {
			t.Fatalf("X-Forwarded-For %s: limiter key = %q, want 192.0.2.50", xff, limiter.gotIP)
		}
	}
}

func TestRateLimitLogin_TrustedProxyUsesRealIP(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: true, ResetAt: time.Now()}}
	h := chimiddleware.RealIP(RateLimitLogin(RateLimitConfig{
		Logger:            discard(),
		Limiter:           limiter,
		Enabled:           true,
		RequestsPerMinute: 30,
		Burst:             10,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Real-IP", "198.51.100.2")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if limiter.gotIP != "198.51.100.2" {
		t.Errorf("limiter key = %q, want 198.51.100.2", limiter.gotIP)
	}
}
