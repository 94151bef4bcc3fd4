// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package monitor

import (
	"sort"
	"sync"
)

// Status classifies a plugin's operational health.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusWarning
	StatusCritical
)

// String returns the status name for logging and JSON output.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Thresholds are the warning and critical boundaries for each health
// dimension.
type Thresholds struct {
	WarningMemory     uint64
	CriticalMemory    uint64
	WarningCPU        float64
	CriticalCPU       float64
	WarningErrorRate  float64
	CriticalErrorRate float64
	WarningLatencyMS  float64
	CriticalLatencyMS float64
}

// DefaultThresholds returns the standard health boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningMemory:     128 * 1024 * 1024,
		CriticalMemory:    256 * 1024 * 1024,
		WarningCPU:        80.0,
		CriticalCPU:       95.0,
		WarningErrorRate:  0.05,
		CriticalErrorRate: 0.2,
		WarningLatencyMS:  1000.0,
		CriticalLatencyMS: 5000.0,
	}
}

// StatusFor classifies a metrics snapshot against the thresholds. Each
// dimension is evaluated independently and the worst result wins: any
// critical dimension makes the whole status critical.
func StatusFor(m PluginMetrics, t Thresholds) Status {
	status := StatusHealthy

	if m.MemoryUsage > t.CriticalMemory {
		return StatusCritical
	} else if m.MemoryUsage > t.WarningMemory {
		status = StatusWarning
	}

	if m.CPUUsage > t.CriticalCPU {
		return StatusCritical
	} else if m.CPUUsage > t.WarningCPU {
		status = StatusWarning
	}

	if m.ErrorRate > t.CriticalErrorRate {
		return StatusCritical
	} else if m.ErrorRate > t.WarningErrorRate {
		status = StatusWarning
	}

	if m.AvgLatencyMS > t.CriticalLatencyMS {
		return StatusCritical
	} else if m.AvgLatencyMS > t.WarningLatencyMS {
		status = StatusWarning
	}

	return status
}

// HealthMonitor evaluates plugin health from collected metrics and keeps
// a bounded history of status snapshots.
type HealthMonitor struct {
	thresholds Thresholds
	collector  *Collector
	maxHistory int

	mu      sync.RWMutex
	history []map[string]Status
}

// NewHealthMonitor creates a health monitor reading from the collector.
func NewHealthMonitor(thresholds Thresholds, collector *Collector, maxHistory int) *HealthMonitor {
	return &HealthMonitor{
		thresholds: thresholds,
		collector:  collector,
		maxHistory: maxHistory,
	}
}

// CheckHealth classifies every tracked plugin, records the snapshot in
// history, and returns it.
func (h *HealthMonitor) CheckHealth() map[string]Status {
	metrics := h.collector.All()
	statuses := make(map[string]Status, len(metrics))
	for name, m := range metrics {
		statuses[name] = StatusFor(m, h.thresholds)
	}

	h.mu.Lock()
	h.history = append(h.history, statuses)
	for len(h.history) > h.maxHistory {
		h.history = h.history[1:]
	}
	h.mu.Unlock()

	publishHealthGauges(statuses)
	return statuses
}

// PluginHealth returns the current status of a single plugin.
// Plugins with no metrics registered report StatusUnknown.
func (h *HealthMonitor) PluginHealth(plugin string) Status {
	m, ok := h.collector.Get(plugin)
	if !ok {
		return StatusUnknown
	}
	return StatusFor(m, h.thresholds)
}

// History returns the recorded status snapshots, oldest first.
func (h *HealthMonitor) History() []map[string]Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]map[string]Status, len(h.history))
	copy(out, h.history)
	return out
}

// CriticalPlugins returns the names of plugins currently critical, sorted.
func (h *HealthMonitor) CriticalPlugins() []string {
	var critical []string
	for name, status := range h.CheckHealth() {
		if status == StatusCritical {
			critical = append(critical, name)
		}
	}
	sort.Strings(critical)
	return critical
}

// HealthStats summarizes the current health of all plugins.
type HealthStats struct {
	Total       int `json:"total_plugins"`
	Healthy     int `json:"healthy"`
	Warning     int `json:"warning"`
	Critical    int `json:"critical"`
	Unknown     int `json:"unknown"`
	HistorySize int `json:"history_size"`
}

// Stats runs a health check and returns per-status counts.
func (h *HealthMonitor) Stats() HealthStats {
	statuses := h.CheckHealth()

	stats := HealthStats{Total: len(statuses)}
	for _, status := range statuses {
		switch status {
		case StatusHealthy:
			stats.Healthy++
		case StatusWarning:
			stats.Warning++
		case StatusCritical:
			stats.Critical++
		default:
			stats.Unknown++
		}
	}

	h.mu.RLock()
	stats.HistorySize = len(h.history)
	h.mu.RUnlock()
	return stats
}
