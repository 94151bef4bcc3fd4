// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// Config is a plugin's flat key-value configuration, backed by an
// optional TOML file. It is safe for concurrent use.
type Config struct {
	mu     sync.RWMutex
	values map[string]any
	path   string
}

// NewConfig creates an empty configuration with no backing file.
func NewConfig() *Config {
	return &Config{values: make(map[string]any)}
}

// LoadConfig reads a TOML config file. A missing file yields an empty
// configuration bound to that path.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{values: make(map[string]any), path: path}, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, oops.Code(CodeConfig).
			With("path", path).
			Wrapf(err, "loading plugin config")
	}
	return &Config{values: k.All(), path: path}, nil
}

// Get returns the value for key, or nil if absent.
func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.values[key]
}

// GetString returns the string value for key, or def when absent or not
// a string.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.Get(key).(string); ok {
		return v
	}
	return def
}

// GetInt returns the integer value for key, or def when absent or not an
// integer. TOML integers decode as int64.
func (c *Config) GetInt(key string, def int64) int64 {
	switch v := c.Get(key).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return def
	}
}

// GetBool returns the boolean value for key, or def when absent or not a
// boolean.
func (c *Config) GetBool(key string, def bool) bool {
	if v, ok := c.Get(key).(bool); ok {
		return v
	}
	return def
}

// Set stores a value under key.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[key] = value
}

// Delete removes key.
func (c *Config) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.values, key)
}

// Has reports whether key is present.
func (c *Config) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.values[key]
	return ok
}

// All returns a copy of every key-value pair.
func (c *Config) All() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Save writes the configuration back to its backing file.
func (c *Config) Save() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if path == "" {
		return oops.Code(CodeConfig).Errorf("no configuration file path specified")
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration as TOML to path, creating parent
// directories as needed.
func (c *Config) SaveTo(path string) error {
	c.mu.RLock()
	values := make(map[string]any, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	c.mu.RUnlock()

	data, err := toml.Parser().Marshal(values)
	if err != nil {
		return oops.Code(CodeConfig).
			With("path", path).
			Wrapf(err, "encoding plugin config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return oops.Code(CodeConfig).
			With("path", path).
			Wrapf(err, "creating config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return oops.Code(CodeConfig).
			With("path", path).
			Wrapf(err, "writing plugin config")
	}
	return nil
}

// Reload re-reads the backing file, replacing in-memory values.
func (c *Config) Reload() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if path == "" {
		return oops.Code(CodeConfig).Errorf("no configuration file path specified")
	}
	fresh, err := LoadConfig(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.values = fresh.values
	c.mu.Unlock()
	return nil
}
