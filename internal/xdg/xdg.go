// Package xdg provides XDG Base Directory paths for phira-mp.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "phira-mp"

// ConfigDir returns the XDG config directory for phira-mp.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DataDir returns the XDG data directory for phira-mp.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "share")
	}
	return filepath.Join(base, appName)
}

// StateDir returns the XDG state directory for phira-mp.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".local", "state")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigPath returns the path checked for a config file when
// none is given on the command line.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DefaultPluginDir returns the plugin directory used when the
// configuration does not name one.
func DefaultPluginDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
