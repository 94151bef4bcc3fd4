// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package sandbox

import (
	"sort"
	"sync"
)

// Manager owns the sandbox of every loaded plugin.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	sandboxes map[string]*Sandbox
}

// NewManager creates an empty sandbox manager.
func NewManager() *Manager {
	return &Manager{
		sandboxes: make(map[string]*Sandbox),
	}
}

// Create builds a sandbox for the named plugin and registers it,
// replacing any previous sandbox for the same name.
func (m *Manager) Create(pluginName string, limits ResourceLimits, policy SecurityPolicy) *Sandbox {
	sb := New(pluginName, limits, policy)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sandboxes[pluginName] = sb
	return sb
}

// Get returns the sandbox for pluginName, or nil if none exists.
func (m *Manager) Get(pluginName string) *Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sandboxes[pluginName]
}

// Remove drops the sandbox for pluginName. Unknown names are a no-op.
func (m *Manager) Remove(pluginName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sandboxes, pluginName)
}

// All returns every registered sandbox.
func (m *Manager) All() []*Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, sb)
	}
	return out
}

// CheckForTermination returns the names of plugins whose violation count
// has crossed the termination threshold, sorted for determinism.
func (m *Manager) CheckForTermination() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, sb := range m.sandboxes {
		if sb.ShouldTerminate() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats aggregates usage across all sandboxes.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{TotalSandboxes: len(m.sandboxes)}
	for _, sb := range m.sandboxes {
		usage := sb.Usage()
		stats.TotalViolations += usage.SecurityViolations
		stats.TotalMemoryUsed += usage.MemoryUsed
		if sb.Active() {
			stats.ActiveSandboxes++
		}
	}
	return stats
}

// ManagerStats summarizes all sandboxes under one manager.
type ManagerStats struct {
	TotalSandboxes  int
	ActiveSandboxes int
	TotalViolations uint32
	TotalMemoryUsed uint64
}
