package health

import (
	"sync"
	"time"
)

// Monitor is the registry of per-component health that the monitoring
// service folds into its system snapshots. Writers are the periodic
// health loops; readers are dashboard and statistics queries, so the
// map sits behind a read-write lock.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewMonitor returns an empty registry.
func NewMonitor() *Monitor {
	return &Monitor{
		components: make(map[string]Status),
	}
}

// Update records the status for a named component, stamping the
// component name and a timestamp when the caller left them unset.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.components[name] = status
}

// UpdateHealthy marks a component healthy with the given message.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks a component unhealthy with the given message.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks a component degraded with the given message.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the last recorded status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.components[name]
	return status, ok
}

// GetAll returns a snapshot of every tracked component. The returned
// map is the caller's to mutate.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]Status, len(m.components))
	for name, status := range m.components {
		snapshot[name] = status
	}
	return snapshot
}

// AggregateHealth folds every tracked component into one system-level
// status under the given system name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]Status, 0, len(m.components))
	for _, status := range m.components {
		subStatuses = append(subStatuses, status)
	}
	return Aggregate(systemName, subStatuses)
}

// Count reports how many components are tracked.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.components)
}
