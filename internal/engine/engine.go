// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package engine defines the execution-engine contract the plugin manager
// drives, plus the wazero-backed WASM implementation.
package engine

import (
	"context"

	"github.com/samber/oops"
)

// Error codes for engine failures.
const (
	CodeIO      = "IO"
	CodeRuntime = "RUNTIME"
)

// Engine turns a module file on disk into a runnable instance.
type Engine interface {
	// Instantiate loads and instantiates the module at path. The returned
	// instance is not yet started.
	Instantiate(ctx context.Context, path string) (Instance, error)
	// Close tears down the engine and every live instance.
	Close(ctx context.Context) error
}

// Instance is one loaded plugin module.
// Stop and Cleanup are idempotent.
type Instance interface {
	// Start invokes the module's startup entry point, if it has one.
	Start(ctx context.Context) error
	// Stop invokes the module's shutdown entry point, if it has one.
	Stop(ctx context.Context) error
	// Cleanup releases the module. The instance is unusable afterwards.
	Cleanup(ctx context.Context) error
	// Call invokes an exported guest function.
	Call(ctx context.Context, fn string, args ...uint64) ([]uint64, error)
}

// ErrFunctionNotFound creates a RUNTIME error for a missing guest export.
func ErrFunctionNotFound(plugin, fn string) error {
	return oops.Code(CodeRuntime).
		With("plugin", plugin).
		With("function", fn).
		Errorf("function %q not found in plugin %q", fn, plugin)
}
