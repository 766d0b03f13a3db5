// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus or keep them in memory.
type Recorder interface {
	// Login metrics
	IncLogin(outcome string) // outcome: "success" or a rejection code
	ObserveLoginDuration(duration time.Duration)

	// Inter-service verification
	IncServiceRequest(outcome string) // outcome: "accepted" or a rejection reason

	// Member provisioning
	IncMemberCreate(outcome string) // outcome: "created", "duplicate", "invalid", "not_found", "error"

	// Rate limiting
	IncRateLimited(scope string)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
