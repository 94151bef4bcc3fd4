// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package command

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status constants for command execution metrics.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// CommandExecutions is the counter for command executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phira_mp_command_executions_total",
		Help: "Total number of command executions",
	},
	[]string{"command", "plugin", "status"},
)

// CommandDuration is the histogram for command execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "phira_mp_command_duration_seconds",
		Help:    "Command execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command", "plugin"},
)

// AliasResolutions is the counter for alias resolutions during dispatch.
// Use RegisterMetrics to register this with a Prometheus registry.
var AliasResolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "phira_mp_command_alias_resolutions_total",
		Help: "Total number of command alias resolutions",
	},
	[]string{"alias"},
)

// RegisterMetrics registers command package metrics with the given Prometheus registry.
// This must be called at startup to make metrics available on /metrics.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
	reg.MustRegister(AliasResolutions)
}

// RecordCommandExecution increments the command execution counter.
func RecordCommandExecution(command, plugin, status string) {
	CommandExecutions.WithLabelValues(command, plugin, status).Inc()
}

// RecordCommandDuration records the duration of a command execution.
func RecordCommandDuration(command, plugin string, duration time.Duration) {
	CommandDuration.WithLabelValues(command, plugin).Observe(duration.Seconds())
}

// RecordAliasResolution increments the alias resolution counter.
func RecordAliasResolution(alias string) {
	AliasResolutions.WithLabelValues(alias).Inc()
}
