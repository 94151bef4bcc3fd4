// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package monitor tracks per-plugin performance metrics and classifies
// plugin health against configurable thresholds.
package monitor

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// subscriberBuffer is the channel capacity for metrics subscribers.
// Sends never block; snapshots are dropped when a subscriber lags.
const subscriberBuffer = 100

// PluginMetrics is a point-in-time view of a single plugin's performance.
type PluginMetrics struct {
	PluginName     string         `json:"plugin_name"`
	MemoryUsage    uint64         `json:"memory_usage"`
	CPUUsage       float64        `json:"cpu_usage"`
	ActiveRequests int            `json:"active_requests"`
	TotalRequests  uint64         `json:"total_requests"`
	AvgLatencyMS   float64        `json:"avg_latency_ms"`
	ErrorRate      float64        `json:"error_rate"`
	Timestamp      time.Time      `json:"timestamp"`
	Custom         map[string]any `json:"custom_metrics,omitempty"`
}

// IsStale reports whether the metrics have not been updated within threshold.
func (m PluginMetrics) IsStale(threshold time.Duration) bool {
	return time.Since(m.Timestamp) > threshold
}

// clone returns a copy safe to hand outside the collector's lock.
func (m PluginMetrics) clone() PluginMetrics {
	out := m
	if m.Custom != nil {
		out.Custom = maps.Clone(m.Custom)
	}
	return out
}

// RequestTracker measures the latency of a single in-flight request.
type RequestTracker struct {
	plugin string
	start  time.Time
}

// PluginName returns the plugin the tracked request belongs to.
func (t *RequestTracker) PluginName() string { return t.plugin }

// Elapsed returns the time since the request started.
func (t *RequestTracker) Elapsed() time.Duration { return time.Since(t.start) }

// Collector maintains live metrics for every registered plugin plus a
// bounded snapshot history taken on a fixed aggregation interval.
type Collector struct {
	maxHistory int
	interval   time.Duration
	logger     *slog.Logger

	mu              sync.RWMutex
	metrics         map[string]*PluginMetrics
	history         []map[string]PluginMetrics
	lastAggregation time.Time
	subscribers     []chan PluginMetrics
}

// NewCollector creates a metrics collector keeping at most maxHistory
// snapshots, aggregating no more often than interval.
func NewCollector(maxHistory int, interval time.Duration, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		maxHistory:      maxHistory,
		interval:        interval,
		logger:          logger,
		metrics:         make(map[string]*PluginMetrics),
		lastAggregation: time.Now(),
	}
}

// Register starts tracking metrics for a plugin. Registering an already
// tracked plugin resets its metrics.
func (c *Collector) Register(plugin string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[plugin] = &PluginMetrics{
		PluginName: plugin,
		Timestamp:  time.Now(),
	}
	c.logger.Debug("registered plugin for metrics collection", "plugin", plugin)
}

// Unregister stops tracking metrics for a plugin.
func (c *Collector) Unregister(plugin string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.metrics, plugin)
	deletePluginGauges(plugin)
	c.logger.Debug("unregistered plugin from metrics collection", "plugin", plugin)
}

// Get returns a snapshot of a plugin's metrics.
func (c *Collector) Get(plugin string) (PluginMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.metrics[plugin]
	if !ok {
		return PluginMetrics{}, false
	}
	return m.clone(), true
}

// All returns a snapshot of every tracked plugin's metrics.
func (c *Collector) All() map[string]PluginMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() map[string]PluginMetrics {
	out := make(map[string]PluginMetrics, len(c.metrics))
	for name, m := range c.metrics {
		out[name] = m.clone()
	}
	return out
}

// update mutates a plugin's metrics under the collector lock. Updates for
// untracked plugins are dropped.
func (c *Collector) update(plugin string, fn func(*PluginMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.metrics[plugin]
	if !ok {
		return
	}
	fn(m)
	m.Timestamp = time.Now()
}

// UpdateMemoryUsage records the plugin's current memory footprint.
func (c *Collector) UpdateMemoryUsage(plugin string, bytes uint64) {
	c.update(plugin, func(m *PluginMetrics) { m.MemoryUsage = bytes })
}

// UpdateCPUUsage records the plugin's current CPU usage percentage.
func (c *Collector) UpdateCPUUsage(plugin string, percent float64) {
	c.update(plugin, func(m *PluginMetrics) { m.CPUUsage = percent })
}

// AddCustom attaches an arbitrary named metric to the plugin.
func (c *Collector) AddCustom(plugin, name string, value any) {
	c.update(plugin, func(m *PluginMetrics) {
		if m.Custom == nil {
			m.Custom = make(map[string]any)
		}
		m.Custom[name] = value
	})
}

// StartRequest marks the start of a request for the plugin. Returns nil
// when the plugin is not tracked.
func (c *Collector) StartRequest(plugin string) *RequestTracker {
	var tracked bool
	c.update(plugin, func(m *PluginMetrics) {
		m.ActiveRequests++
		tracked = true
	})
	if !tracked {
		return nil
	}
	return &RequestTracker{plugin: plugin, start: time.Now()}
}

// EndRequest completes a request, folding its latency into the
// exponential moving average and updating the running error rate.
func (c *Collector) EndRequest(plugin string, success bool, latency time.Duration) {
	c.update(plugin, func(m *PluginMetrics) {
		if m.ActiveRequests > 0 {
			m.ActiveRequests--
		}
		m.TotalRequests++

		latencyMS := float64(latency.Milliseconds())
		if m.TotalRequests == 1 {
			m.AvgLatencyMS = latencyMS
		} else {
			m.AvgLatencyMS = m.AvgLatencyMS*0.9 + latencyMS*0.1
		}

		errors := float64(m.TotalRequests-1) * m.ErrorRate
		if !success {
			errors++
		}
		m.ErrorRate = errors / float64(m.TotalRequests)
	})
}

// Collect takes a snapshot of all plugin metrics into the history ring
// and notifies subscribers. Calls before the aggregation interval has
// elapsed since the previous snapshot are no-ops.
func (c *Collector) Collect() {
	c.mu.Lock()

	now := time.Now()
	if now.Sub(c.lastAggregation) < c.interval {
		c.mu.Unlock()
		return
	}
	c.lastAggregation = now

	snapshot := c.snapshotLocked()
	c.history = append(c.history, snapshot)
	for len(c.history) > c.maxHistory {
		c.history = c.history[1:]
	}
	subscribers := make([]chan PluginMetrics, len(c.subscribers))
	copy(subscribers, c.subscribers)
	historyLen := len(c.history)
	c.mu.Unlock()

	for _, m := range snapshot {
		for _, ch := range subscribers {
			select {
			case ch <- m:
			default:
			}
		}
	}
	publishPluginGauges(snapshot)

	c.logger.Debug("collected metrics snapshot", "history_size", historyLen)
}

// History returns the recorded snapshots, oldest first.
func (c *Collector) History() []map[string]PluginMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]map[string]PluginMetrics, len(c.history))
	copy(out, c.history)
	return out
}

// Subscribe returns a channel receiving per-plugin metrics on every
// collected snapshot. Slow subscribers miss snapshots rather than block
// collection.
func (c *Collector) Subscribe() <-chan PluginMetrics {
	ch := make(chan PluginMetrics, subscriberBuffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (c *Collector) Unsubscribe(ch <-chan PluginMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, sub := range c.subscribers {
		if (<-chan PluginMetrics)(sub) == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Aggregated summarizes a plugin's metrics across history snapshots.
type Aggregated struct {
	PluginName    string  `json:"plugin_name"`
	MinMemory     uint64  `json:"min_memory"`
	MaxMemory     uint64  `json:"max_memory"`
	AvgMemory     float64 `json:"avg_memory"`
	MinCPU        float64 `json:"min_cpu"`
	MaxCPU        float64 `json:"max_cpu"`
	AvgCPU        float64 `json:"avg_cpu"`
	TotalRequests uint64  `json:"total_requests"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	Samples       int     `json:"samples"`
}

// Aggregate folds the history into per-plugin min/max/avg summaries.
func (c *Collector) Aggregate() map[string]Aggregated {
	history := c.History()
	out := make(map[string]Aggregated)

	for _, snapshot := range history {
		for name, m := range snapshot {
			agg, ok := out[name]
			if !ok {
				agg = Aggregated{PluginName: name, MinMemory: ^uint64(0), MinCPU: -1}
			}

			if m.MemoryUsage < agg.MinMemory {
				agg.MinMemory = m.MemoryUsage
			}
			if m.MemoryUsage > agg.MaxMemory {
				agg.MaxMemory = m.MemoryUsage
			}
			if agg.MinCPU < 0 || m.CPUUsage < agg.MinCPU {
				agg.MinCPU = m.CPUUsage
			}
			if m.CPUUsage > agg.MaxCPU {
				agg.MaxCPU = m.CPUUsage
			}

			agg.AvgMemory = (agg.AvgMemory*float64(agg.Samples) + float64(m.MemoryUsage)) / float64(agg.Samples+1)
			agg.AvgCPU = (agg.AvgCPU*float64(agg.Samples) + m.CPUUsage) / float64(agg.Samples+1)
			agg.Samples++

			// Request counters and derived rates reflect the latest sample.
			agg.TotalRequests = m.TotalRequests
			agg.ErrorRate = m.ErrorRate
			agg.AvgLatencyMS = m.AvgLatencyMS

			out[name] = agg
		}
	}
	return out
}

// CollectorStats summarizes the collector itself.
type CollectorStats struct {
	TrackedPlugins int `json:"tracked_plugins"`
	HistorySize    int `json:"history_size"`
	MaxHistorySize int `json:"max_history_size"`
	Subscribers    int `json:"subscribers"`
}

// Stats returns collector statistics.
func (c *Collector) Stats() CollectorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CollectorStats{
		TrackedPlugins: len(c.metrics),
		HistorySize:    len(c.history),
		MaxHistorySize: c.maxHistory,
		Subscribers:    len(c.subscribers),
	}
}
