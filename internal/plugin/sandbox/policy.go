// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package sandbox

import "strings"

// SecurityPolicy declares which host capabilities a plugin may use.
// For each allow-list, an empty list with the capability enabled means
// unrestricted access to that capability.
type SecurityPolicy struct {
	AllowFilesystem  bool
	AllowNetwork     bool
	AllowSubprocess  bool
	AllowEnvironment bool
	AllowSystemInfo  bool

	// AllowedFilesystemPaths is matched by path prefix.
	AllowedFilesystemPaths []string
	// AllowedNetworkHosts is matched exactly.
	AllowedNetworkHosts []string
	// AllowedEnvironmentVars is matched exactly.
	AllowedEnvironmentVars []string

	MaxRecursionDepth     int
	EnableStackProtection bool
	EnableMemorySandbox   bool
}

// Restrictive returns the default deny-everything policy.
func Restrictive() SecurityPolicy {
	return SecurityPolicy{
		MaxRecursionDepth:     100,
		EnableStackProtection: true,
		EnableMemorySandbox:   true,
	}
}

// Permissive returns a policy suitable for trusted plugins: filesystem
// under /tmp, loopback network, and a minimal environment.
func Permissive() SecurityPolicy {
	return SecurityPolicy{
		AllowFilesystem:        true,
		AllowNetwork:           true,
		AllowEnvironment:       true,
		AllowSystemInfo:        true,
		AllowedFilesystemPaths: []string{"/tmp"},
		AllowedNetworkHosts:    []string{"localhost", "127.0.0.1"},
		AllowedEnvironmentVars: []string{"PATH", "HOME"},
		MaxRecursionDepth:      1000,
		EnableStackProtection:  true,
		EnableMemorySandbox:    true,
	}
}

// FilesystemPathAllowed reports whether path may be accessed.
func (p SecurityPolicy) FilesystemPathAllowed(path string) bool {
	if !p.AllowFilesystem {
		return false
	}
	if len(p.AllowedFilesystemPaths) == 0 {
		return true
	}
	for _, allowed := range p.AllowedFilesystemPaths {
		if strings.HasPrefix(path, allowed) {
			return true
		}
	}
	return false
}

// NetworkHostAllowed reports whether host may be contacted.
func (p SecurityPolicy) NetworkHostAllowed(host string) bool {
	if !p.AllowNetwork {
		return false
	}
	if len(p.AllowedNetworkHosts) == 0 {
		return true
	}
	for _, allowed := range p.AllowedNetworkHosts {
		if host == allowed {
			return true
		}
	}
	return false
}

// EnvironmentVarAllowed reports whether the variable may be read.
func (p SecurityPolicy) EnvironmentVarAllowed(name string) bool {
	if !p.AllowEnvironment {
		return false
	}
	if len(p.AllowedEnvironmentVars) == 0 {
		return true
	}
	for _, allowed := range p.AllowedEnvironmentVars {
		if name == allowed {
			return true
		}
	}
	return false
}
