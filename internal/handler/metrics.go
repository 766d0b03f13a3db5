package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/trustline/trustline/internal/metrics"
)

// MetricsHandler exposes metrics. A Prometheus recorder serves its own
// registry; an in-memory recorder is rendered in exposition format by hand.
type MetricsHandler struct {
	recorder metrics.Recorder
	prefix   string
}

// NewMetricsHandler creates a new MetricsHandler. prefix names the text
// fallback series, e.g. "trustline".
func NewMetricsHandler(recorder metrics.Recorder, prefix string) *MetricsHandler {
	return &MetricsHandler{recorder: recorder, prefix: prefix}
}

// Metrics handles GET /metrics.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.recorder.(interface{ Handler() http.Handler }); ok {
		p.Handler().ServeHTTP(w, r)
		return
	}

	snapshotter, ok := h.recorder.(metrics.Snapshotter)
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	h.writeLabeled(w, "logins_total", "outcome", snap.Logins)
	writeMetric(w, "%s_login_duration_seconds_count %d\n", h.prefix, snap.LoginDurationCount)
	writeMetric(w, "%s_login_duration_seconds_sum %.6f\n", h.prefix, float64(snap.LoginDurationTotalNs)/1e9)
	h.writeLabeled(w, "service_requests_total", "outcome", snap.ServiceRequests)
	h.writeLabeled(w, "member_creates_total", "outcome", snap.MemberCreates)
	h.writeLabeled(w, "rate_limited_total", "scope", snap.RateLimited)
}

func (h *MetricsHandler) writeLabeled(w http.ResponseWriter, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s_%s{%s=%q} %d\n", h.prefix, name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
