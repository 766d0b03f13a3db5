package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder exports metrics through a dedicated registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	logins          *prometheus.CounterVec
	loginDuration   prometheus.Histogram
	serviceRequests *prometheus.CounterVec
	memberCreates   *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
}

// NewPrometheus creates a recorder whose metrics are prefixed with
// namespace (e.g. "trustline_auth").
func NewPrometheus(namespace string) *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		loginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_duration_seconds",
			Help:      "Login latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		serviceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_requests_total",
			Help:      "Inter-service requests by verification outcome.",
		}, []string{"outcome"}),
		memberCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "member_creates_total",
			Help:      "Member creation attempts by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"scope"}),
	}

	p.registry.MustRegister(
		p.logins,
		p.loginDuration,
		p.serviceRequests,
		p.memberCreates,
		p.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// IncLogin increments the login counter for outcome.
func (p *PrometheusRecorder) IncLogin(outcome string) {
	p.logins.WithLabelValues(outcome).Inc()
}

// ObserveLoginDuration records login duration.
func (p *PrometheusRecorder) ObserveLoginDuration(duration time.Duration) {
	p.loginDuration.Observe(duration.Seconds())
}

// IncServiceRequest increments the verification counter for outcome.
func (p *PrometheusRecorder) IncServiceRequest(outcome string) {
	p.serviceRequests.WithLabelValues(outcome).Inc()
}

// IncMemberCreate increments the member creation counter for outcome.
func (p *PrometheusRecorder) IncMemberCreate(outcome string) {
	p.memberCreates.WithLabelValues(outcome).Inc()
}

// IncRateLimited increments the rate limit counter for scope.
func (p *PrometheusRecorder) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}
