package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/trustline/trustline/internal/cache"
	"github.com/trustline/trustline/internal/metrics"
)

// LoginLimiter is the slice of the cache the login limiter needs.
type LoginLimiter interface {
	CheckLoginIPRateLimit(ctx context.Context, ip string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter LoginLimiter
	Metrics metrics.Recorder
	Enabled bool
	// RequestsPerMinute is the refill rate per client IP.
	RequestsPerMinute int
	Burst             int
}

// RateLimitLogin returns middleware that rate limits login attempts per
// client IP. Redis failures let the request through.
func RateLimitLogin(cfg RateLimitConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled || cfg.Limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)

			result, err := cfg.Limiter.CheckLoginIPRateLimit(r.Context(), ip, cfg.RequestsPerMinute, cfg.Burst)
			if err != nil {
				logger.Warn("login rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, cfg.RequestsPerMinute, result.Remaining, result.ResetAt)

			if !result.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("type", "login_ip"),
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+routeLabel(r)),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				recorder.IncRateLimited("login_ip")
				WriteRateLimited(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// WriteRateLimited writes a 429 with a Retry-After header. Handlers that
// limit on request content (the login email) share it.
func WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		"too many login attempts, retry after "+strconv.Itoa(secs)+" seconds")
}

// getClientIP returns the host part of RemoteAddr. Forwarding headers are
// only honored when chi's RealIP middleware ran first, which the services
// install only with TRUST_PROXY_HEADERS set.
func getClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
