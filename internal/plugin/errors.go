// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin lifecycle failures.
const (
	CodeInvalidManifest       = "INVALID_MANIFEST"
	CodeConfig                = "CONFIG"
	CodeDependency            = "DEPENDENCY"
	CodeRuntime               = "RUNTIME"
	CodeAlreadyLoaded         = "ALREADY_LOADED"
	CodeNotFound              = "NOT_FOUND"
	CodeUnsupportedABIVersion = "UNSUPPORTED_ABI_VERSION"
)

// ErrAlreadyLoaded creates an error for loading a plugin name twice.
func ErrAlreadyLoaded(name string) error {
	return oops.Code(CodeAlreadyLoaded).
		With("plugin", name).
		Errorf("plugin %q is already loaded", name)
}

// ErrNotFound creates an error for an unknown plugin name.
func ErrNotFound(name string) error {
	return oops.Code(CodeNotFound).
		With("plugin", name).
		Errorf("plugin %q not found", name)
}

// ErrMissingDependencies creates an error for unsatisfied dependencies.
func ErrMissingDependencies(name string, missing []string) error {
	return oops.Code(CodeDependency).
		With("plugin", name).
		With("missing", missing).
		Errorf("missing dependencies for %q: %v", name, missing)
}

// ErrInvalidState creates an error for an illegal state transition.
func ErrInvalidState(name string, state, expected State) error {
	return oops.Code(CodeRuntime).
		With("plugin", name).
		With("state", state.String()).
		With("expected", expected.String()).
		Errorf("plugin %q is in state %s, expected %s", name, state, expected)
}
