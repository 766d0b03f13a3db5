package metrics

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Logins               map[string]uint64
	LoginDurationCount   uint64
	LoginDurationTotalNs int64
	ServiceRequests      map[string]uint64
	MemberCreates        map[string]uint64
	RateLimited          map[string]uint64
}

// InMemoryRecorder stores metrics in memory for tests and the plain-text
// /metrics fallback.
type InMemoryRecorder struct {
	loginDurationCount   uint64
	loginDurationTotalNs int64

	mu              sync.Mutex
	logins          map[string]uint64
	serviceRequests map[string]uint64
	memberCreates   map[string]uint64
	rateLimited     map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		logins:          make(map[string]uint64),
		serviceRequests: make(map[string]uint64),
		memberCreates:   make(map[string]uint64),
		rateLimited:     make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Logins:               maps.Clone(m.logins),
		LoginDurationCount:   atomic.LoadUint64(&m.loginDurationCount),
		LoginDurationTotalNs: atomic.LoadInt64(&m.loginDurationTotalNs),
		ServiceRequests:      maps.Clone(m.serviceRequests),
		MemberCreates:        maps.Clone(m.memberCreates),
		RateLimited:          maps.Clone(m.rateLimited),
	}
}

// IncLogin increments the login counter for outcome.
func (m *InMemoryRecorder) IncLogin(outcome string) {
	m.inc(m.logins, outcome)
}

// ObserveLoginDuration records login duration.
func (m *InMemoryRecorder) ObserveLoginDuration(duration time.Duration) {
	atomic.AddUint64(&m.loginDurationCount, 1)
	atomic.AddInt64(&m.loginDurationTotalNs, duration.Nanoseconds())
}

// IncServiceRequest increments the verification counter for outcome.
func (m *InMemoryRecorder) IncServiceRequest(outcome string) {
	m.inc(m.serviceRequests, outcome)
}

// IncMemberCreate increments the member creation counter for outcome.
func (m *InMemoryRecorder) IncMemberCreate(outcome string) {
	m.inc(m.memberCreates, outcome)
}

// IncRateLimited increments the rate limit counter for scope.
func (m *InMemoryRecorder) IncRateLimited(scope string) {
	m.inc(m.rateLimited, scope)
}

func (m *InMemoryRecorder) inc(counter map[string]uint64, label string) {
	m.mu.Lock()
	counter[label]++
	m.mu.Unlock()
}
