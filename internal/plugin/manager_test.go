// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/command"
	"github.com/FireflyF09/phira-mp/internal/engine"
	"github.com/FireflyF09/phira-mp/internal/events"
	"github.com/FireflyF09/phira-mp/internal/plugin"
	"github.com/FireflyF09/phira-mp/internal/plugin/sandbox"
	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

const hostABI = "1.0.0"

type fakeInstance struct {
	mu       sync.Mutex
	starts   int
	stops    int
	cleanups int
}

func (f *fakeInstance) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeInstance) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeInstance) Cleanup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeInstance) Call(context.Context, string, ...uint64) ([]uint64, error) {
	return nil, nil
}

func (f *fakeInstance) counts() (starts, stops, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.cleanups
}

type fakeEngine struct {
	mu           sync.Mutex
	instantiated int
	failPaths    map[string]bool
	instances    map[string]*fakeInstance
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		failPaths: make(map[string]bool),
		instances: make(map[string]*fakeInstance),
	}
}

func (f *fakeEngine) Instantiate(_ context.Context, path string) (engine.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPaths[path] {
		return nil, oops.Code("RUNTIME").Errorf("instantiation refused")
	}
	f.instantiated++
	inst := &fakeInstance{}
	f.instances[path] = inst
	return inst, nil
}

func (f *fakeEngine) Close(context.Context) error { return nil }

func (f *fakeEngine) instance(path string) *fakeInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[path]
}

// writePlugin creates a dummy module file and its manifest, returning
// the module path.
func writePlugin(t *testing.T, dir, name string, deps ...string) string {
	t.Helper()
	modulePath := filepath.Join(dir, name+".wasm")
	require.NoError(t, os.WriteFile(modulePath, []byte("module"), 0o644))

	manifest := fmt.Sprintf("name = %q\nversion = \"1.0.0\"\nauthor = \"test\"\nabi_version = \"1.0.0\"\n", name)
	if len(deps) > 0 {
		manifest += "dependencies = ["
		for i, d := range deps {
			if i > 0 {
				manifest += ", "
			}
			manifest += fmt.Sprintf("%q", d)
		}
		manifest += "]\n"
	}
	require.NoError(t, os.WriteFile(plugin.ManifestPath(modulePath), []byte(manifest), 0o644))
	return modulePath
}

type managerFixture struct {
	manager   *plugin.Manager
	engine    *fakeEngine
	bus       *events.Bus
	registry  *command.Registry
	sandboxes *sandbox.Manager
	dir       string
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	dir := t.TempDir()
	eng := newFakeEngine()
	bus := events.NewBus(nil)
	registry := command.NewRegistry(nil)
	sandboxes := sandbox.NewManager()

	mgr, err := plugin.NewManager(dir, hostABI, eng, bus, registry, sandboxes, nil)
	require.NoError(t, err)

	return &managerFixture{
		manager:   mgr,
		engine:    eng,
		bus:       bus,
		registry:  registry,
		sandboxes: sandboxes,
		dir:       dir,
	}
}

func TestLoadPlugin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var loadEvents []events.Event
	f.bus.Subscribe(events.PluginLoad, func(e events.Event) error {
		loadEvents = append(loadEvents, e)
		return nil
	}, "test")

	path := writePlugin(t, f.dir, "chat")
	require.NoError(t, f.manager.LoadPlugin(ctx, path))

	p, ok := f.manager.Get("chat")
	require.True(t, ok)
	assert.Equal(t, plugin.StateInitialized, p.State())
	assert.Equal(t, "1.0.0", p.Metadata.Version)
	assert.NotNil(t, p.Instance())
	assert.NotNil(t, f.sandboxes.Get("chat"))

	require.Len(t, loadEvents, 1)
	assert.Equal(t, "chat", loadEvents[0].Data["plugin"])
}

func TestLoadPluginDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writePlugin(t, f.dir, "chat")
	require.NoError(t, f.manager.LoadPlugin(ctx, path))

	err := f.manager.LoadPlugin(ctx, path)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeAlreadyLoaded))
}

func TestLoadPluginMissingDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writePlugin(t, f.dir, "moderation", "chat")
	err := f.manager.LoadPlugin(ctx, path)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeDependency))

	// The failed load left no residue: once the dependency is present,
	// the same plugin loads cleanly.
	_, ok := f.manager.Get("moderation")
	assert.False(t, ok)

	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "chat")))
	require.NoError(t, f.manager.LoadPlugin(ctx, path))
}

func TestLoadPluginABIMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	modulePath := filepath.Join(f.dir, "old.wasm")
	require.NoError(t, os.WriteFile(modulePath, []byte("module"), 0o644))
	manifest := "name = \"old\"\nversion = \"1.0.0\"\nauthor = \"test\"\nabi_version = \"2.0.0\"\n"
	require.NoError(t, os.WriteFile(plugin.ManifestPath(modulePath), []byte(manifest), 0o644))

	err := f.manager.LoadPlugin(ctx, modulePath)
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeUnsupportedABIVersion))
}

func TestLoadPluginInstantiationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writePlugin(t, f.dir, "chat")
	f.engine.failPaths[path] = true

	require.Error(t, f.manager.LoadPlugin(ctx, path))
	_, ok := f.manager.Get("chat")
	assert.False(t, ok)

	// After the engine recovers, the load succeeds.
	f.engine.failPaths[path] = false
	require.NoError(t, f.manager.LoadPlugin(ctx, path))
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writePlugin(t, f.dir, "chat")
	require.NoError(t, f.manager.LoadPlugin(ctx, path))

	// Initialized -> Running.
	require.NoError(t, f.manager.StartPlugin(ctx, "chat"))
	p, _ := f.manager.Get("chat")
	assert.Equal(t, plugin.StateRunning, p.State())

	// Starting twice is an invalid transition.
	err := f.manager.StartPlugin(ctx, "chat")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeRuntime))

	// Running <-> Paused.
	require.NoError(t, f.manager.PausePlugin("chat"))
	assert.Equal(t, plugin.StatePaused, p.State())
	require.Error(t, f.manager.PausePlugin("chat"))
	require.NoError(t, f.manager.ResumePlugin("chat"))
	assert.Equal(t, plugin.StateRunning, p.State())

	// Running -> Initialized.
	require.NoError(t, f.manager.StopPlugin(ctx, "chat"))
	assert.Equal(t, plugin.StateInitialized, p.State())

	starts, stops, _ := f.engine.instance(path).counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestStartAllRespectsDependencyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "storage")))
	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "chat", "storage")))

	require.NoError(t, f.manager.StartAll(ctx))

	for _, name := range []string{"storage", "chat"} {
		p, _ := f.manager.Get(name)
		assert.Equal(t, plugin.StateRunning, p.State(), name)
	}

	f.manager.StopAll(ctx)
	for _, name := range []string{"storage", "chat"} {
		p, _ := f.manager.Get(name)
		assert.Equal(t, plugin.StateInitialized, p.State(), name)
	}
}

func TestUnloadPlugin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var unloadEvents []events.Event
	f.bus.Subscribe(events.PluginUnload, func(e events.Event) error {
		unloadEvents = append(unloadEvents, e)
		return nil
	}, "test")

	path := writePlugin(t, f.dir, "chat")
	require.NoError(t, f.manager.LoadPlugin(ctx, path))
	require.NoError(t, f.manager.StartPlugin(ctx, "chat"))

	// The plugin registered a command that must disappear on unload.
	require.NoError(t, f.registry.Register(&command.Command{
		Name:    "say",
		Handler: func(context.Context, string, []string) (string, error) { return "", nil },
		Plugin:  "chat",
	}))

	require.NoError(t, f.manager.UnloadPlugin(ctx, "chat"))

	_, ok := f.manager.Get("chat")
	assert.False(t, ok)
	assert.Nil(t, f.registry.Get("say"))
	assert.Nil(t, f.sandboxes.Get("chat"))
	require.Len(t, unloadEvents, 1)

	// A running plugin is stopped, then always cleaned up.
	starts, stops, cleanups := f.engine.instance(path).counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Equal(t, 1, cleanups)

	err := f.manager.UnloadPlugin(ctx, "chat")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeNotFound))
}

func TestCanUnloadSafely(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "storage")))
	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "chat", "storage")))
	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "moderation", "chat")))

	assert.False(t, f.manager.CanUnloadSafely("storage"))
	assert.Equal(t, []string{"chat", "moderation"}, f.manager.Dependents("storage"))
	assert.True(t, f.manager.CanUnloadSafely("moderation"))

	require.NoError(t, f.manager.UnloadPlugin(ctx, "moderation"))
	require.NoError(t, f.manager.UnloadPlugin(ctx, "chat"))
	assert.True(t, f.manager.CanUnloadSafely("storage"))
}

func TestReloadPlugin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := writePlugin(t, f.dir, "chat")
	require.NoError(t, f.manager.LoadPlugin(ctx, path))
	first := f.engine.instance(path)

	require.NoError(t, f.manager.ReloadPlugin(ctx, "chat"))

	p, ok := f.manager.Get("chat")
	require.True(t, ok)
	assert.Equal(t, plugin.StateInitialized, p.State())

	// The old instance was fully discarded and a new one created.
	_, _, cleanups := first.counts()
	assert.Equal(t, 1, cleanups)
	assert.NotSame(t, first, f.engine.instance(path))

	err := f.manager.ReloadPlugin(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errutil.HasCode(err, plugin.CodeNotFound))
}

func TestScanAndLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Top-level module file.
	writePlugin(t, f.dir, "chat")

	// Module inside a subdirectory.
	subdir := filepath.Join(f.dir, "stats")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	modulePath := filepath.Join(subdir, "plugin.wasm")
	require.NoError(t, os.WriteFile(modulePath, []byte("module"), 0o644))
	manifest := "name = \"stats\"\nversion = \"1.0.0\"\nauthor = \"test\"\nabi_version = \"1.0.0\"\n"
	require.NoError(t, os.WriteFile(plugin.ManifestPath(modulePath), []byte(manifest), 0o644))

	// A broken plugin is skipped, not fatal.
	badPath := filepath.Join(f.dir, "broken.wasm")
	require.NoError(t, os.WriteFile(badPath, []byte("module"), 0o644))
	require.NoError(t, os.WriteFile(plugin.ManifestPath(badPath), []byte("name = \"\"\n"), 0o644))

	// Irrelevant files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "README.md"), []byte("docs"), 0o644))

	loaded, err := f.manager.ScanAndLoad(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	_, ok := f.manager.Get("chat")
	assert.True(t, ok)
	_, ok = f.manager.Get("stats")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "chat")))
	require.NoError(t, f.manager.LoadPlugin(ctx, writePlugin(t, f.dir, "stats")))
	require.NoError(t, f.manager.StartPlugin(ctx, "chat"))

	stats := f.manager.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Initialized)
}
