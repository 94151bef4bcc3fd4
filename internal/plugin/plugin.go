// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin

import (
	"sync"

	"github.com/FireflyF09/phira-mp/internal/engine"
)

// State is a plugin's lifecycle state.
type State int

const (
	// StateLoaded means the manifest is parsed and the record exists, but
	// no engine instance has been created.
	StateLoaded State = iota
	// StateInitialized means the engine instance exists but is not
	// started.
	StateInitialized
	// StateRunning means the plugin is actively processing.
	StateRunning
	// StatePaused means the plugin is temporarily inactive.
	StatePaused
	// StateUnloading is terminal: the plugin is being torn down.
	StateUnloading
	// StateError is reached from any state on unrecoverable failure.
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateUnloading:
		return "unloading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Plugin is one loaded plugin. The manager is the only writer of state
// and instance; everyone else reads through the accessors.
type Plugin struct {
	// Metadata is immutable after load.
	Metadata *Metadata
	// Config is the plugin's mutable key-value configuration.
	Config *Config
	// Path is the module file the plugin was loaded from.
	Path string
	// Dependencies are the names declared in the manifest.
	Dependencies []string

	mu       sync.RWMutex
	state    State
	stateMsg string
	instance engine.Instance
}

// NewPlugin creates a plugin record in the Loaded state.
func NewPlugin(metadata *Metadata, config *Config, path string) *Plugin {
	return &Plugin{
		Metadata:     metadata,
		Config:       config,
		Path:         path,
		Dependencies: metadata.Dependencies,
		state:        StateLoaded,
	}
}

// Name returns the plugin's manifest name.
func (p *Plugin) Name() string {
	return p.Metadata.Name
}

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.state
}

// StateMessage returns the error message for StateError, or "".
func (p *Plugin) StateMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.stateMsg
}

// Instance returns the engine instance, or nil before initialization.
func (p *Plugin) Instance() engine.Instance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.instance
}

// setState transitions the state. Only the manager calls this.
func (p *Plugin) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = s
	if s != StateError {
		p.stateMsg = ""
	}
}

// setError transitions to StateError with a message.
func (p *Plugin) setError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateError
	p.stateMsg = msg
}

// setInstance attaches the engine instance. Only the manager calls this.
func (p *Plugin) setInstance(inst engine.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.instance = inst
}

// takeInstance detaches and returns the engine instance.
func (p *Plugin) takeInstance() engine.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()

	inst := p.instance
	p.instance = nil
	return inst
}
