package metrics

import "sync"

// Counter names. Each is exported as one `event` label value.
const (
	EventSent              = "event_sent"
	EventReceived          = "event_received"
	EventDecodeError       = "event_decode_error"
	EventDroppedNotOpen    = "event_dropped_channel_not_open"
	EventDroppedClosed     = "event_dropped_channel_closed"
	CredentialFetchFailure = "credential_fetch_failure"
	NegotiationFailure     = "negotiation_failure"
	ConnectTimeout         = "connect_timeout"
	SessionStarted         = "session_started"
	SessionStopped         = "session_stopped"
	SessionRemoteClosed    = "session_remote_closed"
	SessionConfigured      = "session_configured"
	ToolCallOK             = "tool_call_ok"
	ToolCallFailed         = "tool_call_failed"
	ToolCallUnknown        = "tool_call_unknown"
	FollowUpSent           = "follow_up_sent"
	TokenIssued            = "token_issued"
	TokenUpstreamFailure   = "token_upstream_failure"
	AuthFailure            = "auth_failure"
	ControlWSRateLimited   = "control_ws_rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A nil *Metrics is valid and discards everything, so components can take one
// optionally.
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
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
