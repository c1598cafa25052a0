package metrics

import (
	"maps"
	"sync"
)

// Event names. Each is exported as one `event` label value.
const (
	ConnectionsAccepted = "connections_accepted"
	ConnectionsClosed   = "connections_closed"
	TooManyConnections  = "too_many_connections"
	OriginRejected      = "origin_rejected"
	UpgradeFailed       = "upgrade_failed"
	UnsupportedMessage  = "unsupported_message"

	ClientsRegistered = "clients_registered"
	DuplicateClient   = "duplicate_client"
	DecodeError       = "decode_error"

	FramesIn           = "frames_in"
	FramesRelayed      = "frames_relayed"
	JoinBroadcasts     = "join_broadcasts"
	TargetNotFound     = "target_not_found"
	RateLimited        = "rate_limited"
	QueueDropped       = "send_queue_dropped"
	OverflowDisconnect = "send_queue_overflow_disconnect"
	WriteError         = "write_error"

	UnregisterMissing    = "unregister_missing"
	RegistryInconsistent = "registry_inconsistent"

	ICERequests         = "ice_requests"
	TURNRESTCredentials = "turn_rest_credentials_issued"
)

// Metrics is a minimal, concurrency-safe counter registry.
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

// Add is a no-op on a nil receiver so optional metrics can be left unset.
func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
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

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.m)
}
