package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(outcome string) {}

// ObserveLoginDuration is a no-op.
func (n *NoopRecorder) ObserveLoginDuration(duration time.Duration) {}

// IncServiceRequest is a no-op.
func (n *NoopRecorder) IncServiceRequest(outcome string) {}

// IncMemberCreate is a no-op.
func (n *NoopRecorder) IncMemberCreate(outcome string) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(scope string) {}
