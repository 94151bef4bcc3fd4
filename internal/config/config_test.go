// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/config"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "plugins", cfg.Plugins.Dir)
	assert.Equal(t, "1.0.0", cfg.Plugins.ABIVersion)
	assert.True(t, cfg.Plugins.AutoStart)
	assert.True(t, cfg.HotReload.Enabled)
	assert.Equal(t, 3, cfg.HotReload.MaxRestartAttempts)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, 10*time.Second, cfg.AggregationInterval())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  format: text
plugins:
  dir: /srv/plugins
hot_reload:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/srv/plugins", cfg.Plugins.Dir)
	assert.False(t, cfg.HotReload.Enabled)

	// Untouched keys keep their defaults.
	assert.Equal(t, "1.0.0", cfg.Plugins.ABIVersion)
	assert.Equal(t, 5, cfg.HotReload.CooldownSecs)
}

func TestLoadFlagOverrides(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plugins.dir", "", "plugin directory")
	flags.String("metrics.addr", "", "metrics address")
	require.NoError(t, flags.Parse([]string{"--plugins.dir=/opt/plugins", "--metrics.addr="}))

	cfg, err := config.Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, "/opt/plugins", cfg.Plugins.Dir)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, config.CodeConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad log format", content: "log:\n  format: xml\n"},
		{name: "empty plugin dir", content: "plugins:\n  dir: \"\"\n"},
		{name: "zero restart attempts", content: "hot_reload:\n  max_restart_attempts: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := config.Load(path, nil)
			require.Error(t, err)
			assert.True(t, errutil.HasCode(err, config.CodeConfig))
		})
	}
}

func TestHotReloadConfig(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	hr := cfg.HotReloadConfig()
	assert.True(t, hr.Enabled)
	assert.Equal(t, 500*time.Millisecond, hr.DebounceDelay)
	assert.Equal(t, 5*time.Second, hr.RestartCooldown)
	assert.Equal(t, []string{"plugins"}, hr.WatchDirectories)
	assert.Contains(t, hr.WatchPatterns, "*.wasm")
}
