package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/trustline/trustline/internal/cache"
	"github.com/trustline/trustline/internal/handler/dto"
	"github.com/trustline/trustline/internal/login"
	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/middleware"
	"github.com/trustline/trustline/internal/model"
)

// LoginService is the login orchestrator as seen by the handler.
type LoginService interface {
	Login(ctx context.Context, email, password string) (*login.Session, error)
}

// EmailLimiter throttles attempts against a single account.
type EmailLimiter interface {
	CheckLoginEmailRateLimit(ctx context.Context, email string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// AuthHandler handles POST /api/v1/auth/login.
type AuthHandler struct {
	svc    LoginService
	logger *slog.Logger

	limiter EmailLimiter
	rpm     int
	burst   int
	metrics metrics.Recorder
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc LoginService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:     svc,
		logger:  logger,
		metrics: metrics.NewNoop(),
	}
}

// WithEmailLimit enables per-account throttling in addition to the per-IP
// middleware, so one account cannot be guessed at from many addresses.
func (h *AuthHandler) WithEmailLimit(limiter EmailLimiter, ratePerMinute, burst int, recorder metrics.Recorder) *AuthHandler {
	h.limiter = limiter
	h.rpm = ratePerMinute
	h.burst = burst
	if recorder != nil {
		h.metrics = recorder
	}
	return h
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if h.limiter != nil && req.Email != "" {
		if !h.allowEmail(w, r, model.NormalizeEmail(req.Email)) {
			return
		}
	}

	session, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleLoginError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LoginResponse{
		Message: "login successful",
		Token:   session.Token,
	})
}

func (h *AuthHandler) allowEmail(w http.ResponseWriter, r *http.Request, email string) bool {
	result, err := h.limiter.CheckLoginEmailRateLimit(r.Context(), email, h.rpm, h.burst)
	if err != nil {
		h.logger.Warn("login email rate limit check failed",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		return true
	}
	if result.Allowed {
		return true
	}

	h.logger.Warn("rate limit exceeded",
		slog.String("type", "login_email"),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	h.metrics.IncRateLimited("login_email")
	middleware.WriteRateLimited(w, result.RetryAfter)
	return false
}

// handleLoginError maps login rejections to HTTP responses. The body never
// says more than the rejection kind.
func (h *AuthHandler) handleLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, login.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
	case errors.Is(err, login.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, login.ErrUserNotProvisioned):
		writeError(w, http.StatusForbidden, "USER_NOT_PROVISIONED", "user is not a member of any organization")
	case errors.Is(err, login.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "organization service unavailable")
	default:
		var rejected *login.RejectedError
		if !errors.As(err, &rejected) {
			h.logger.Error("internal_error",
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.GetRequestID(r.Context())),
			)
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
