// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/internal/engine"
	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/plugin/graph"
	"github.com/FireflyF09/phira-mp/internal/plugin/sandbox"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

// moduleExt is the plugin module file extension.
const moduleExt = ".wasm"

// Manager owns the authoritative plugin map and drives the lifecycle
// state machine. It is safe for concurrent use; no lock is held across
// an engine call.
type Manager struct {
	pluginDir string
	hostABI   string
	engine    engine.Engine
	bus       *events.Bus
	registry  *command.Registry
	sandboxes *sandbox.Manager
	graph     *graph.Graph
	logger    *slog.Logger

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewManager creates a plugin manager rooted at pluginDir, creating the
// directory if needed.
func NewManager(
	pluginDir, hostABI string,
	eng engine.Engine,
	bus *events.Bus,
	registry *command.Registry,
	sandboxes *sandbox.Manager,
	logger *slog.Logger,
) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return nil, oops.Code("IO").
			With("dir", pluginDir).
			Wrapf(err, "creating plugin directory")
	}
	return &Manager{
		pluginDir: pluginDir,
		hostABI:   hostABI,
		engine:    eng,
		bus:       bus,
		registry:  registry,
		sandboxes: sandboxes,
		graph:     graph.New(),
		logger:    logger,
		plugins:   make(map[string]*Plugin),
	}, nil
}

// ManifestPath returns the manifest file expected next to a module file:
// the same path with the extension swapped for .toml.
func ManifestPath(modulePath string) string {
	return strings.TrimSuffix(modulePath, filepath.Ext(modulePath)) + ".toml"
}

// LoadPlugin loads the module at path: manifest parse and ABI check,
// duplicate check, dependency registration and verification, record
// insert, then engine instantiation. On success the plugin is
// Initialized. A failure at any step leaves no residue in the map or
// the dependency graph.
func (m *Manager) LoadPlugin(ctx context.Context, path string) error {
	if err := m.loadPlugin(ctx, path); err != nil {
		recordLoad(StatusError)
		return err
	}
	recordLoad(StatusSuccess)
	return nil
}

func (m *Manager) loadPlugin(ctx context.Context, path string) error {
	metadata, err := LoadManifest(ManifestPath(path))
	if err != nil {
		return err
	}
	if err := metadata.CheckABICompatibility(m.hostABI); err != nil {
		return err
	}
	name := metadata.Name

	config, err := LoadConfig(m.ConfigPath(name))
	if err != nil {
		return err
	}

	p := NewPlugin(metadata, config, path)

	m.mu.Lock()
	if _, exists := m.plugins[name]; exists {
		m.mu.Unlock()
		return ErrAlreadyLoaded(name)
	}
	m.graph.Add(name, p.Dependencies)
	if missing := m.graph.MissingDependencies(name); len(missing) > 0 {
		m.graph.Remove(name)
		m.mu.Unlock()
		return ErrMissingDependencies(name, missing)
	}
	if err := m.graph.CheckCircular(); err != nil {
		m.graph.Remove(name)
		m.mu.Unlock()
		return err
	}
	m.plugins[name] = p
	m.mu.Unlock()

	// Engine call happens outside every lock.
	inst, err := m.engine.Instantiate(ctx, path)
	if err != nil {
		m.mu.Lock()
		delete(m.plugins, name)
		m.graph.Remove(name)
		m.mu.Unlock()
		return err
	}

	p.setInstance(inst)
	p.setState(StateInitialized)
	m.sandboxes.Create(name, sandbox.DefaultLimits(), sandbox.Restrictive())
	m.updateStateGauge()

	m.bus.Emit(events.NewSystem(events.PluginLoad, map[string]any{
		"plugin":  name,
		"version": metadata.Version,
		"path":    path,
	}))
	m.logger.Info("plugin loaded",
		"plugin", name,
		"version", metadata.Version,
		"path", path,
	)
	return nil
}

// InitializeAll instantiates every plugin still in the Loaded state.
// Plugins already past it are left alone.
func (m *Manager) InitializeAll(ctx context.Context) error {
	for _, p := range m.All() {
		if p.State() != StateLoaded {
			continue
		}
		inst, err := m.engine.Instantiate(ctx, p.Path)
		if err != nil {
			p.setError(err.Error())
			return err
		}
		p.setInstance(inst)
		p.setState(StateInitialized)
	}
	m.updateStateGauge()
	return nil
}

// StartPlugin transitions an Initialized plugin to Running.
func (m *Manager) StartPlugin(ctx context.Context, name string) error {
	p, ok := m.Get(name)
	if !ok {
		return ErrNotFound(name)
	}
	if p.State() != StateInitialized {
		return ErrInvalidState(name, p.State(), StateInitialized)
	}

	if inst := p.Instance(); inst != nil {
		if err := inst.Start(ctx); err != nil {
			p.setError(err.Error())
			m.updateStateGauge()
			return err
		}
	}
	p.setState(StateRunning)
	m.updateStateGauge()
	m.logger.Info("plugin started", "plugin", name)
	return nil
}

// StartAll starts every Initialized plugin in dependency order.
func (m *Manager) StartAll(ctx context.Context) error {
	order, err := m.loadOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		p, ok := m.Get(name)
		if !ok || p.State() != StateInitialized {
			continue
		}
		if err := m.StartPlugin(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopPlugin transitions a Running or Paused plugin back to Initialized.
func (m *Manager) StopPlugin(ctx context.Context, name string) error {
	p, ok := m.Get(name)
	if !ok {
		return ErrNotFound(name)
	}
	if s := p.State(); s != StateRunning && s != StatePaused {
		return ErrInvalidState(name, s, StateRunning)
	}

	if inst := p.Instance(); inst != nil {
		if err := inst.Stop(ctx); err != nil {
			p.setError(err.Error())
			m.updateStateGauge()
			return err
		}
	}
	p.setState(StateInitialized)
	m.updateStateGauge()
	m.logger.Info("plugin stopped", "plugin", name)
	return nil
}

// StopAll stops every Running or Paused plugin in reverse dependency
// order, logging and continuing past per-plugin failures.
func (m *Manager) StopAll(ctx context.Context) {
	order, err := m.unloadOrder()
	if err != nil {
		errutil.LogError(m.logger, "computing unload order", err)
		return
	}
	for _, name := range order {
		p, ok := m.Get(name)
		if !ok {
			continue
		}
		if s := p.State(); s != StateRunning && s != StatePaused {
			continue
		}
		if err := m.StopPlugin(ctx, name); err != nil {
			errutil.LogError(m.logger.With("plugin", name), "stopping plugin", err)
		}
	}
}

// PausePlugin transitions a Running plugin to Paused. The engine
// instance stays live; the plugin simply stops receiving work.
func (m *Manager) PausePlugin(name string) error {
	p, ok := m.Get(name)
	if !ok {
		return ErrNotFound(name)
	}
	if p.State() != StateRunning {
		return ErrInvalidState(name, p.State(), StateRunning)
	}
	p.setState(StatePaused)
	m.updateStateGauge()
	m.logger.Info("plugin paused", "plugin", name)
	return nil
}

// ResumePlugin transitions a Paused plugin back to Running.
func (m *Manager) ResumePlugin(name string) error {
	p, ok := m.Get(name)
	if !ok {
		return ErrNotFound(name)
	}
	if p.State() != StatePaused {
		return ErrInvalidState(name, p.State(), StatePaused)
	}
	p.setState(StateRunning)
	m.updateStateGauge()
	m.logger.Info("plugin resumed", "plugin", name)
	return nil
}

// UnloadPlugin tears a plugin down. The map entry is removed first so
// concurrent lookups never observe a half-unloaded plugin; the instance
// is stopped if running and always cleaned up; the plugin's commands,
// subscriptions, sandbox, and graph node are released.
func (m *Manager) UnloadPlugin(ctx context.Context, name string) error {
	m.mu.Lock()
	p, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		recordUnload(StatusError)
		return ErrNotFound(name)
	}
	delete(m.plugins, name)
	m.mu.Unlock()

	state := p.State()
	p.setState(StateUnloading)
	inst := p.takeInstance()

	var unloadErr error
	if inst != nil {
		if state == StateRunning || state == StatePaused {
			if err := inst.Stop(ctx); err != nil {
				errutil.LogError(m.logger.With("plugin", name), "stopping plugin during unload", err)
			}
		}
		// Cleanup runs regardless of stop failures.
		unloadErr = inst.Cleanup(ctx)
	}

	m.registry.UnregisterAllFromPlugin(name)
	m.bus.UnsubscribeAll(name)
	m.sandboxes.Remove(name)

	m.mu.Lock()
	m.graph.Remove(name)
	m.mu.Unlock()
	m.updateStateGauge()

	m.bus.Emit(events.NewSystem(events.PluginUnload, map[string]any{
		"plugin": name,
	}))

	if unloadErr != nil {
		recordUnload(StatusError)
		return oops.Code(CodeRuntime).
			With("plugin", name).
			Wrapf(unloadErr, "cleaning up plugin instance")
	}
	recordUnload(StatusSuccess)
	m.logger.Info("plugin unloaded", "plugin", name)
	return nil
}

// ReloadPlugin unloads the named plugin and loads it again from the same
// path. The instance is fully discarded; runtime data does not survive.
func (m *Manager) ReloadPlugin(ctx context.Context, name string) error {
	p, ok := m.Get(name)
	if !ok {
		recordReload(StatusError)
		return ErrNotFound(name)
	}
	path := p.Path

	if err := m.UnloadPlugin(ctx, name); err != nil {
		recordReload(StatusError)
		return err
	}
	if err := m.LoadPlugin(ctx, path); err != nil {
		recordReload(StatusError)
		return err
	}
	recordReload(StatusSuccess)
	m.logger.Info("plugin reloaded", "plugin", name)
	return nil
}

// ScanAndLoad walks the plugin directory and loads every module it
// finds: top-level *.wasm files, or plugin.wasm inside a subdirectory.
// Per-plugin failures are logged, not propagated. Returns the number of
// plugins loaded.
func (m *Manager) ScanAndLoad(ctx context.Context) (int, error) {
	m.logger.Info("scanning plugin directory", "dir", m.pluginDir)

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil {
		return 0, oops.Code("IO").
			With("dir", m.pluginDir).
			Wrapf(err, "reading plugin directory")
	}

	loaded := 0
	for _, entry := range entries {
		path := filepath.Join(m.pluginDir, entry.Name())
		switch {
		case !entry.IsDir() && filepath.Ext(entry.Name()) == moduleExt:
		case entry.IsDir():
			path = filepath.Join(path, "plugin"+moduleExt)
			if _, statErr := os.Stat(path); statErr != nil {
				continue
			}
		default:
			continue
		}

		if err := m.LoadPlugin(ctx, path); err != nil {
			errutil.LogError(m.logger.With("path", path), "failed to load plugin", err)
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Get returns the named plugin.
func (m *Manager) Get(name string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[name]
	return p, ok
}

// All returns every loaded plugin, sorted by name.
func (m *Manager) All() []*Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// CanUnloadSafely reports whether no loaded plugin transitively depends
// on name.
func (m *Manager) CanUnloadSafely(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.graph.CanUnloadSafely(name)
}

// Dependents returns every plugin transitively depending on name.
func (m *Manager) Dependents(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.graph.Dependents(name)
}

// ConfigPath returns the per-plugin config file location.
func (m *Manager) ConfigPath(name string) string {
	return filepath.Join(m.pluginDir, name, "config.toml")
}

// PluginDir returns the directory the manager scans.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}

func (m *Manager) loadOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.graph.LoadOrder()
}

func (m *Manager) unloadOrder() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.graph.UnloadOrder()
}

// Stats summarizes the plugin map by state.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Total: len(m.plugins)}
	for _, p := range m.plugins {
		switch p.State() {
		case StateLoaded:
			stats.Loaded++
		case StateInitialized:
			stats.Initialized++
		case StateRunning:
			stats.Running++
		case StatePaused:
			stats.Paused++
		case StateError:
			stats.Errored++
		}
	}
	return stats
}

// Stats counts plugins per lifecycle state.
type Stats struct {
	Total       int
	Loaded      int
	Initialized int
	Running     int
	Paused      int
	Errored     int
}

func (m *Manager) updateStateGauge() {
	stats := m.Stats()
	PluginsByState.WithLabelValues(StateLoaded.String()).Set(float64(stats.Loaded))
	PluginsByState.WithLabelValues(StateInitialized.String()).Set(float64(stats.Initialized))
	PluginsByState.WithLabelValues(StateRunning.String()).Set(float64(stats.Running))
	PluginsByState.WithLabelValues(StatePaused.String()).Set(float64(stats.Paused))
	PluginsByState.WithLabelValues(StateError.String()).Set(float64(stats.Errored))
}
