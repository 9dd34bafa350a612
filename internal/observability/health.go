package observability

import (
	"context"
	"sync"
	"time"
)

// ComponentStatus is the reported condition of one monitored component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// rank orders statuses for aggregation; higher is worse.
func (s ComponentStatus) rank() int {
	switch s {
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	case StatusHealthy:
		return 0
	}
	return -1
}

func (s ComponentStatus) alertLevel() string {
	switch s {
	case StatusUnhealthy:
		return "critical"
	case StatusDegraded:
		return "warn"
	}
	return "info"
}

// HealthCheck probes one component and reports its condition.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is a single component's probe result.
type ComponentHealth struct {
	Name        string          `json:"name"`
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Latency     time.Duration   `json:"latency_ms"`
	Details     map[string]any  `json:"details,omitempty"`
}

// SystemHealth aggregates all component results. Status is the worst
// individual status.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"ts"`
	Uptime     time.Duration              `json:"uptime"`
}

// Alert is emitted when a component changes status.
type Alert struct {
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"ts"`
}

// HealthMonitor probes registered components on an interval and emits
// alerts on status transitions.
type HealthMonitor struct {
	mu      sync.RWMutex
	checks  map[string]HealthCheck
	results map[string]ComponentHealth

	started  time.Time
	interval time.Duration
	alertCh  chan Alert
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		checks:   make(map[string]HealthCheck),
		results:  make(map[string]ComponentHealth),
		started:  time.Now(),
		interval: interval,
		alertCh:  make(chan Alert, 256),
		stopCh:   make(chan struct{}),
	}
}

// Register adds a named probe. Call before Start.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Start probes immediately, then on every interval tick. Blocks until
// the context is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Check probes synchronously and returns the aggregate. Usable from an
// HTTP handler without the periodic loop running.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.sweep(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := SystemHealth{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(m.results)),
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.started),
	}
	for name, h := range m.results {
		agg.Components[name] = h
		if h.Status.rank() > agg.Status.rank() {
			agg.Status = h.Status
		}
	}
	return agg
}

// Alerts returns the channel carrying status-transition alerts.
func (m *HealthMonitor) Alerts() <-chan Alert {
	return m.alertCh
}

// ComponentStatus returns the latest result for one component.
func (m *HealthMonitor) ComponentStatus(name string) (ComponentHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.results[name]
	return h, ok
}

// sweep runs every probe once and records results, alerting on any
// component whose status changed since the previous sweep.
func (m *HealthMonitor) sweep(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	probes := make([]HealthCheck, 0, len(m.checks))
	for name, fn := range m.checks {
		names = append(names, name)
		probes = append(probes, fn)
	}
	m.mu.RUnlock()

	fresh := make(map[string]ComponentHealth, len(names))
	for i, fn := range probes {
		begin := time.Now()
		h := fn(ctx)
		h.Name = names[i]
		h.Latency = time.Since(begin)
		h.LastChecked = time.Now()
		fresh[names[i]] = h
	}

	m.mu.Lock()
	prev := m.results
	m.results = fresh
	m.mu.Unlock()

	for name, h := range fresh {
		old, seen := prev[name]
		if seen && old.Status == h.Status {
			continue
		}
		m.notify(name, h)
	}
}

// notify pushes an alert without blocking; a full channel drops it.
func (m *HealthMonitor) notify(name string, h ComponentHealth) {
	msg := h.Message
	if msg == "" {
		msg = "status changed to " + string(h.Status)
	}
	select {
	case m.alertCh <- Alert{
		Level:     h.Status.alertLevel(),
		Component: name,
		Message:   msg,
		Timestamp: time.Now(),
	}:
	default:
	}
}
