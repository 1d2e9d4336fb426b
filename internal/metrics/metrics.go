package metrics

import "sync"

// Counter names incremented by the signaling endpoints.
const (
	AuthFailure      = "auth_failure"
	Forbidden        = "forbidden"
	BadSignal        = "bad_signal"
	RateLimited      = "rate_limited"
	OfferStored      = "offer_stored"
	AnswerStored     = "answer_stored"
	CandidateStored  = "candidate_stored"
	CallEnded        = "call_ended"
	CallRejected     = "call_rejected"
	PollServed       = "poll_served"
	PollEmpty        = "poll_empty"
	RecordsSwept     = "records_swept"
	EventSubscribers = "event_subscribers"
	EventsDropped    = "events_dropped"
)

// Metrics is a minimal, concurrency-safe counter registry, exposed to
// Prometheus via the text handler in this package.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
