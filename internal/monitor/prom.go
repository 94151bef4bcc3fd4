// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PluginMemoryBytes is the gauge of plugin memory usage.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginMemoryBytes = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugin_memory_bytes",
		Help: "Current memory usage per plugin in bytes",
	},
	[]string{"plugin"},
)

// PluginCPUPercent is the gauge of plugin CPU usage.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginCPUPercent = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugin_cpu_percent",
		Help: "Current CPU usage per plugin as a percentage",
	},
	[]string{"plugin"},
)

// PluginErrorRate is the gauge of plugin request error rate.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginErrorRate = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugin_error_rate",
		Help: "Errors per request per plugin, between 0 and 1",
	},
	[]string{"plugin"},
)

// PluginAvgLatencyMS is the gauge of plugin average request latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginAvgLatencyMS = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugin_avg_latency_ms",
		Help: "Exponential moving average request latency per plugin in milliseconds",
	},
	[]string{"plugin"},
)

// PluginHealth is the gauge of plugins per health status.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginHealth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugin_health",
		Help: "Number of plugins by health status",
	},
	[]string{"status"},
)

// RegisterMetrics registers monitor package metrics with the given Prometheus registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginMemoryBytes)
	reg.MustRegister(PluginCPUPercent)
	reg.MustRegister(PluginErrorRate)
	reg.MustRegister(PluginAvgLatencyMS)
	reg.MustRegister(PluginHealth)
}

func publishPluginGauges(snapshot map[string]PluginMetrics) {
	for name, m := range snapshot {
		PluginMemoryBytes.WithLabelValues(name).Set(float64(m.MemoryUsage))
		PluginCPUPercent.WithLabelValues(name).Set(m.CPUUsage)
		PluginErrorRate.WithLabelValues(name).Set(m.ErrorRate)
		PluginAvgLatencyMS.WithLabelValues(name).Set(m.AvgLatencyMS)
	}
}

func deletePluginGauges(plugin string) {
	labels := prometheus.Labels{"plugin": plugin}
	PluginMemoryBytes.Delete(labels)
	PluginCPUPercent.Delete(labels)
	PluginErrorRate.Delete(labels)
	PluginAvgLatencyMS.Delete(labels)
}

func publishHealthGauges(statuses map[string]Status) {
	counts := map[Status]int{}
	for _, s := range statuses {
		counts[s]++
	}
	for _, s := range []Status{StatusHealthy, StatusWarning, StatusCritical, StatusUnknown} {
		PluginHealth.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
