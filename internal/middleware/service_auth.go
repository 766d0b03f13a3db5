package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/trustline/trustline/internal/auth"
	"github.com/trustline/trustline/internal/metrics"
	"github.com/trustline/trustline/internal/signature"
)

// ServiceAuthConfig holds dependencies for the service auth middleware.
type ServiceAuthConfig struct {
	Verifier *signature.Verifier
	Logger   *slog.Logger
	Metrics  metrics.Recorder
}

// ServiceAuth returns middleware that admits only requests signed by a
// registered peer service. Every rejection gets the same 403 body; the
// reason is only logged and counted.
func ServiceAuth(cfg ServiceAuthConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			env, err := signature.FromRequest(r)
			if err != nil {
				// A body we cannot read cannot be verified either.
				logger.Warn("service request body unreadable",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				recorder.IncServiceRequest("unreadable_body")
				writeForbidden(w)
				return
			}

			res := cfg.Verifier.Verify(env)
			if !res.Accepted {
				recorder.IncServiceRequest(string(res.Reason))
				writeForbidden(w)
				return
			}
			recorder.IncServiceRequest("accepted")

			wrapped := wrapResponseWriter(w)
			next.ServeHTTP(wrapped, r.WithContext(auth.ContextWithService(r.Context(), res.ServiceID)))

			logger.Info("internal call",
				slog.String("service_id", res.ServiceID),
				slog.String("ip", getClientIP(r)),
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.Int("status_code", wrapped.status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
				slog.String("request_id", GetRequestID(r.Context())),
			)
		})
	}
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "FORBIDDEN", "forbidden")
}
