// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package hotreload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/plugin"
)

// Reload phase names carried in the "type" field of PluginHotReload events.
const (
	PhaseReloadRequired  = "plugin_reload_required"
	PhaseReloadStarted   = "plugin_reload_started"
	PhaseReloadCompleted = "plugin_reload_completed"
	PhaseReloadFailed    = "plugin_reload_failed"
)

// PluginHost is the slice of the plugin manager the hot reload loop
// drives. The host may be torn down independently, so lookups can
// legitimately miss.
type PluginHost interface {
	Get(name string) (*plugin.Plugin, bool)
	All() []*plugin.Plugin
	ReloadPlugin(ctx context.Context, name string) error
}

type attemptState struct {
	count int
	last  time.Time
}

// Manager watches plugin directories and reloads plugins when their
// module or configuration files change on disk.
type Manager struct {
	host    PluginHost
	bus     *events.Bus
	config  Config
	matcher *matcher
	logger  *slog.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	attempts map[string]attemptState
}

// NewManager creates a hot reload manager. Start must be called before
// any files are watched.
func NewManager(host PluginHost, bus *events.Bus, config Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := compileMatcher(config)
	if err != nil {
		return nil, err
	}
	return &Manager{
		host:     host,
		bus:      bus,
		config:   config,
		matcher:  m,
		logger:   logger,
		attempts: make(map[string]attemptState),
	}, nil
}

// Start begins watching the configured directories. Starting a running
// manager fails; starting a disabled one is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return oops.Code("RUNTIME").Errorf("hot reload manager already running")
	}
	if !m.config.Enabled {
		m.logger.Info("hot reload is disabled in configuration")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("RUNTIME").Wrapf(err, "creating file watcher")
	}

	for _, dir := range m.config.WatchDirectories {
		if _, statErr := os.Stat(dir); statErr != nil {
			m.logger.Warn("watch directory does not exist, skipping", "dir", dir)
			continue
		}
		if watchErr := watcher.Add(dir); watchErr != nil {
			watcher.Close()
			return oops.Code("RUNTIME").With("dir", dir).Wrapf(watchErr, "watching directory")
		}
		m.logger.Debug("watching directory for changes", "dir", dir)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.watcher = watcher
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx, watcher, m.done)

	m.logger.Info("hot reload manager started")
	return nil
}

// Stop cancels the watch loop and releases the watcher. Pending
// file-change batches are dropped. Stopping a stopped manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	watcher := m.watcher
	done := m.done
	m.watcher = nil
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	<-done
	watcher.Close()

	m.logger.Info("hot reload manager stopped")
}

// Running reports whether the watch loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) loop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.DebounceDelay)
	defer ticker.Stop()

	pending := make(map[string][]string)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event, pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("file watcher error", "error", err)

		case <-ticker.C:
			if len(pending) == 0 {
				continue
			}
			batches := pending
			pending = make(map[string][]string)
			for name, files := range batches {
				m.handlePluginChanges(ctx, name, files)
			}
		}
	}
}

// handleFileEvent classifies a raw watcher event and buffers it into the
// per-plugin pending map for the next debounce tick.
func (m *Manager) handleFileEvent(event fsnotify.Event, pending map[string][]string) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if m.matcher.shouldIgnore(filepath.Base(event.Name)) {
		return
	}

	name, ok := m.findPluginForFile(event.Name)
	if !ok {
		return
	}

	pending[name] = append(pending[name], event.Name)
	m.logger.Debug("file change detected",
		"plugin", name,
		"path", event.Name,
		"op", event.Op.String(),
	)
}

// findPluginForFile maps a changed path to the plugin whose directory
// contains it.
func (m *Manager) findPluginForFile(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	for _, p := range m.host.All() {
		dir, err := filepath.Abs(filepath.Dir(p.Path))
		if err != nil {
			continue
		}
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return p.Name(), true
		}
	}
	return "", false
}

// handlePluginChanges decides whether a batch of changed files warrants
// a reload and runs it.
func (m *Manager) handlePluginChanges(ctx context.Context, name string, files []string) {
	if _, ok := m.host.Get(name); !ok {
		m.logger.Warn("plugin not found, ignoring changes", "plugin", name)
		return
	}

	var moduleChanged, configChanged bool
	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f)) {
		case ".wasm":
			moduleChanged = true
		case ".toml", ".json":
			configChanged = true
		}
	}

	shouldReload := (moduleChanged && m.config.RestartOnWASMChange) ||
		(configChanged && m.config.RestartOnConfigChange)
	if !shouldReload {
		m.logger.Debug("files changed but no reload required", "plugin", name, "files", files)
		return
	}

	reason := "configuration file changed"
	switch {
	case moduleChanged && configChanged:
		reason = "module and configuration files changed"
	case moduleChanged:
		reason = "module file changed"
	}

	m.emit(PhaseReloadRequired, map[string]any{
		"plugin":        name,
		"reason":        reason,
		"changed_files": files,
	})

	m.reload(ctx, name)
}

// reload runs one reload attempt for a plugin, honoring the cooldown
// and attempt cap.
func (m *Manager) reload(ctx context.Context, name string) {
	now := time.Now()

	m.mu.Lock()
	state := m.attempts[name]
	switch {
	case state.count > 0 && now.Sub(state.last) < m.config.RestartCooldown:
		m.mu.Unlock()
		m.logger.Warn("reload attempted too soon, skipping",
			"plugin", name,
			"cooldown", m.config.RestartCooldown,
		)
		return
	case state.count >= m.config.MaxRestartAttempts:
		m.mu.Unlock()
		m.logger.Error("plugin exceeded maximum restart attempts, giving up",
			"plugin", name,
			"max_attempts", m.config.MaxRestartAttempts,
		)
		m.emit(PhaseReloadFailed, map[string]any{
			"plugin":       name,
			"error":        "exceeded maximum restart attempts",
			"attempt":      state.count,
			"max_attempts": m.config.MaxRestartAttempts,
		})
		return
	}
	state.count++
	state.last = now
	m.attempts[name] = state
	m.mu.Unlock()

	m.emit(PhaseReloadStarted, map[string]any{"plugin": name})

	start := time.Now()
	err := m.host.ReloadPlugin(ctx, name)
	duration := time.Since(start)

	if err == nil {
		m.logger.Info("plugin reloaded", "plugin", name, "duration", duration)

		m.mu.Lock()
		delete(m.attempts, name)
		m.mu.Unlock()

		m.emit(PhaseReloadCompleted, map[string]any{
			"plugin":      name,
			"success":     true,
			"duration_ms": duration.Milliseconds(),
		})
		return
	}

	m.logger.Error("plugin reload failed", "plugin", name, "error", err)
	m.emit(PhaseReloadCompleted, map[string]any{
		"plugin":      name,
		"success":     false,
		"error":       err.Error(),
		"duration_ms": duration.Milliseconds(),
	})

	if state.count >= m.config.MaxRestartAttempts {
		m.emit(PhaseReloadFailed, map[string]any{
			"plugin":       name,
			"error":        "failed to reload after maximum attempts",
			"attempt":      state.count,
			"max_attempts": m.config.MaxRestartAttempts,
		})
	}
}

func (m *Manager) emit(phase string, data map[string]any) {
	data["type"] = phase
	m.bus.Emit(events.NewSystem(events.PluginHotReload, data))
}

// ResetAttempts clears the restart bookkeeping for a plugin so a later
// change can trigger reloads again.
func (m *Manager) ResetAttempts(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, name)
}

// Stats summarizes the hot reload manager.
type Stats struct {
	Running             bool          `json:"running"`
	WatchedPlugins      int           `json:"watched_plugins"`
	PluginsWithAttempts int           `json:"plugins_with_attempts"`
	MaxRestartAttempts  int           `json:"max_restart_attempts"`
	RestartCooldown     time.Duration `json:"restart_cooldown"`
}

// Stats returns current watcher statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Running:             m.running,
		WatchedPlugins:      len(m.host.All()),
		PluginsWithAttempts: len(m.attempts),
		MaxRestartAttempts:  m.config.MaxRestartAttempts,
		RestartCooldown:     m.config.RestartCooldown,
	}
}
