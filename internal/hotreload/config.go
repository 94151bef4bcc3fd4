// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package hotreload watches plugin files for changes and drives reloads
// through the plugin manager, debouncing change bursts and backing off
// on repeated failures.
package hotreload

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Config controls file watching and reload backoff behavior.
type Config struct {
	// Enabled turns the watcher on. A disabled manager starts as a no-op.
	Enabled bool

	// DebounceDelay is how long file changes accumulate before a batch
	// is flushed into reload decisions.
	DebounceDelay time.Duration

	// RestartOnConfigChange reloads a plugin when its toml or json
	// files change.
	RestartOnConfigChange bool

	// RestartOnWASMChange reloads a plugin when its module file changes.
	RestartOnWASMChange bool

	// MaxRestartAttempts is the number of reload attempts before the
	// manager gives up on a plugin. Only a successful reload resets
	// the counter.
	MaxRestartAttempts int

	// RestartCooldown is the minimum time between reload attempts for
	// one plugin. Attempts inside the cooldown are skipped, not counted.
	RestartCooldown time.Duration

	// WatchDirectories are the roots watched for changes. Missing
	// directories are skipped with a warning.
	WatchDirectories []string

	// WatchPatterns restrict which file names are considered at all.
	// An empty list means every file matches.
	WatchPatterns []string

	// IgnorePatterns exclude file names even when a watch pattern
	// matches them.
	IgnorePatterns []string
}

// DefaultConfig returns the standard hot reload settings.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		DebounceDelay:         500 * time.Millisecond,
		RestartOnConfigChange: true,
		RestartOnWASMChange:   true,
		MaxRestartAttempts:    3,
		RestartCooldown:       5 * time.Second,
		WatchDirectories:      []string{"."},
		WatchPatterns:         []string{"*.wasm", "*.toml", "*.json"},
		IgnorePatterns:        []string{"*.log", "*.tmp", "*.bak"},
	}
}

// matcher holds compiled watch and ignore globs.
type matcher struct {
	watch  []glob.Glob
	ignore []glob.Glob
}

func compileMatcher(cfg Config) (*matcher, error) {
	m := &matcher{}
	for _, pattern := range cfg.WatchPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("RUNTIME").With("pattern", pattern).Wrapf(err, "compiling watch pattern")
		}
		m.watch = append(m.watch, g)
	}
	for _, pattern := range cfg.IgnorePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, oops.Code("RUNTIME").With("pattern", pattern).Wrapf(err, "compiling ignore pattern")
		}
		m.ignore = append(m.ignore, g)
	}
	return m, nil
}

// shouldIgnore reports whether a file name is excluded from reload
// consideration. Ignore patterns win over watch patterns.
func (m *matcher) shouldIgnore(filename string) bool {
	for _, g := range m.ignore {
		if g.Match(filename) {
			return true
		}
	}
	if len(m.watch) == 0 {
		return false
	}
	for _, g := range m.watch {
		if g.Match(filename) {
			return false
		}
	}
	return true
}
