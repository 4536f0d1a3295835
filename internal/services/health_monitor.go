package services

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthStatus represents the health of a dependency
type HealthStatus struct {
	Healthy      bool      `json:"healthy"`
	LastCheck    time.Time `json:"last_check"`
	LastError    string    `json:"last_error,omitempty"`
	ResponseTime int64     `json:"response_time_ms"`
}

// HealthMonitor runs named dependency checks for the health endpoint
type HealthMonitor struct {
	checks map[string]HealthCheck
	health map[string]*HealthStatus
	mu     sync.RWMutex
}

// NewHealthMonitor creates an empty health monitor
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks: make(map[string]HealthCheck),
		health: make(map[string]*HealthStatus),
	}
}

// Register adds a named check
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every check and reports whether all passed
func (m *HealthMonitor) Check(ctx context.Context) (map[string]HealthStatus, bool) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]HealthStatus, len(names))
	healthy := true
	for _, name := range names {
		m.mu.RLock()
		check := m.checks[name]
		m.mu.RUnlock()

		start := time.Now()
		err := check(ctx)
		status := HealthStatus{
			Healthy:      err == nil,
			LastCheck:    start,
			ResponseTime: time.Since(start).Milliseconds(),
		}
		if err != nil {
			status.LastError = err.Error()
			healthy = false
		}

		m.mu.Lock()
		m.health[name] = &status
		m.mu.Unlock()
		results[name] = status
	}
	return results, healthy
}

// IsHealthy returns the last recorded result for name
func (m *HealthMonitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.health[name]
	if !exists {
		return false
	}
	return status.Healthy
}
