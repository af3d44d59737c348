package circuitbreaker

import (
	"sort"
	"sync"
)

// Snapshot is a point-in-time view of one breaker.
type Snapshot struct {
	Service          string `json:"service"`
	State            State  `json:"state"`
	Counts           Counts `json:"counts"`
	FailureThreshold uint32 `json:"failure_threshold"`
	ResetTimeoutMS   int64  `json:"reset_timeout_ms"`
}

// Manager owns the named breakers of a process.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewManager creates a manager; opts apply to every breaker it creates.
func NewManager(opts ...Option) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), opts: opts}
}

// GetOrCreate returns the breaker for service, creating it with cfg on first use.
func (m *Manager) GetOrCreate(service string, cfg Config) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[service]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok = m.breakers[service]; ok {
		return b
	}
	b = New(service, cfg, m.opts...)
	m.breakers[service] = b
	return b
}

// Get returns the named breaker if it exists.
func (m *Manager) Get(service string) (*Breaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.breakers[service]
	return b, ok
}

// Reset closes the named breaker. It reports whether the breaker exists.
func (m *Manager) Reset(service string) bool {
	b, ok := m.Get(service)
	if ok {
		b.Reset()
	}
	return ok
}

// Snapshot lists all breakers ordered by service name.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.breakers))
	for name, b := range m.breakers {
		out = append(out, Snapshot{
			Service:          name,
			State:            b.State(),
			Counts:           b.Counts(),
			FailureThreshold: b.cfg.FailureThreshold,
			ResetTimeoutMS:   b.cfg.ResetTimeout.Milliseconds(),
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}
