// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package config loads host configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/FireflyF09/phira-mp/internal/hotreload"
)

// CodeConfig is the oops error code for configuration failures.
const CodeConfig = "CONFIG"

// defaultYAML is the baseline configuration; file and flag values
// overlay it.
const defaultYAML = `
log:
  level: info
  format: json
plugins:
  dir: plugins
  abi_version: "1.0.0"
  auto_start: true
hot_reload:
  enabled: true
  debounce_ms: 500
  restart_on_config_change: true
  restart_on_wasm_change: true
  max_restart_attempts: 3
  cooldown_secs: 5
  watch_patterns: ["*.wasm", "*.toml", "*.json"]
  ignore_patterns: ["*.log", "*.tmp", "*.bak"]
metrics:
  addr: 127.0.0.1:9100
monitor:
  history_size: 60
  aggregation_interval_secs: 10
`

// Config is the host process configuration.
type Config struct {
	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Plugins struct {
		Dir        string `koanf:"dir"`
		ABIVersion string `koanf:"abi_version"`
		AutoStart  bool   `koanf:"auto_start"`
	} `koanf:"plugins"`

	HotReload struct {
		Enabled               bool     `koanf:"enabled"`
		DebounceMS            int      `koanf:"debounce_ms"`
		RestartOnConfigChange bool     `koanf:"restart_on_config_change"`
		RestartOnWASMChange   bool     `koanf:"restart_on_wasm_change"`
		MaxRestartAttempts    int      `koanf:"max_restart_attempts"`
		CooldownSecs          int      `koanf:"cooldown_secs"`
		WatchPatterns         []string `koanf:"watch_patterns"`
		IgnorePatterns        []string `koanf:"ignore_patterns"`
	} `koanf:"hot_reload"`

	Metrics struct {
		// Addr is the observability listen address. Empty disables the
		// HTTP server.
		Addr string `koanf:"addr"`
	} `koanf:"metrics"`

	Monitor struct {
		HistorySize             int `koanf:"history_size"`
		AggregationIntervalSecs int `koanf:"aggregation_interval_secs"`
	} `koanf:"monitor"`
}

// Load builds the configuration from defaults, an optional YAML file,
// and an optional flag set, in that precedence order.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultYAML)), yaml.Parser()); err != nil {
		return nil, oops.Code(CodeConfig).Wrapf(err, "loading default configuration")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(CodeConfig).With("path", path).Wrapf(err, "loading configuration file")
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code(CodeConfig).Wrapf(err, "loading flag overrides")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeConfig).Wrapf(err, "unmarshaling configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the runtime cannot work
// with.
func (c *Config) Validate() error {
	if c.Plugins.Dir == "" {
		return oops.Code(CodeConfig).Errorf("plugins.dir is required")
	}
	if c.Plugins.ABIVersion == "" {
		return oops.Code(CodeConfig).Errorf("plugins.abi_version is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code(CodeConfig).Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.HotReload.MaxRestartAttempts <= 0 {
		return oops.Code(CodeConfig).Errorf("hot_reload.max_restart_attempts must be positive")
	}
	if c.Monitor.HistorySize <= 0 {
		return oops.Code(CodeConfig).Errorf("monitor.history_size must be positive")
	}
	return nil
}

// HotReloadConfig translates the configuration into the hot reload
// manager's settings, watching the plugin directory.
func (c *Config) HotReloadConfig() hotreload.Config {
	return hotreload.Config{
		Enabled:               c.HotReload.Enabled,
		DebounceDelay:         time.Duration(c.HotReload.DebounceMS) * time.Millisecond,
		RestartOnConfigChange: c.HotReload.RestartOnConfigChange,
		RestartOnWASMChange:   c.HotReload.RestartOnWASMChange,
		MaxRestartAttempts:    c.HotReload.MaxRestartAttempts,
		RestartCooldown:       time.Duration(c.HotReload.CooldownSecs) * time.Second,
		WatchDirectories:      []string{c.Plugins.Dir},
		WatchPatterns:         c.HotReload.WatchPatterns,
		IgnorePatterns:        c.HotReload.IgnorePatterns,
	}
}

// AggregationInterval returns the metrics aggregation interval.
func (c *Config) AggregationInterval() time.Duration {
	return time.Duration(c.Monitor.AggregationIntervalSecs) * time.Second
}
