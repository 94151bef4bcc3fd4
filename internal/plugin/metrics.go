// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for lifecycle operation metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PluginLoads is the counter for plugin load attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phira_mp_plugin_loads_total",
		Help: "Total number of plugin load attempts",
	},
	[]string{"status"},
)

// PluginUnloads is the counter for plugin unload attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginUnloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phira_mp_plugin_unloads_total",
		Help: "Total number of plugin unload attempts",
	},
	[]string{"status"},
)

// PluginReloads is the counter for plugin reload attempts.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginReloads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phira_mp_plugin_reloads_total",
		Help: "Total number of plugin reload attempts",
	},
	[]string{"status"},
)

// PluginsByState is the gauge of loaded plugins per lifecycle state.
// Use RegisterMetrics to register this with a Prometheus registry.
var PluginsByState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "phira_mp_plugins",
		Help: "Number of loaded plugins by lifecycle state",
	},
	[]string{"state"},
)

// RegisterMetrics registers plugin package metrics with the given Prometheus registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PluginLoads)
	reg.MustRegister(PluginUnloads)
	reg.MustRegister(PluginReloads)
	reg.MustRegister(PluginsByState)
}

func recordLoad(status string)   { PluginLoads.WithLabelValues(status).Inc() }
func recordUnload(status string) { PluginUnloads.WithLabelValues(status).Inc() }
func recordReload(status string) { PluginReloads.WithLabelValues(status).Inc() }
