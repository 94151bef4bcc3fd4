// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package sandbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// terminationThreshold is the violation count at which ShouldTerminate
// starts reporting true.
const terminationThreshold = 10

// Sandbox tracks resource usage and enforces security policy for one
// plugin. It is safe for concurrent use, but operations are non-reentrant:
// only one StartOperation/EndOperation window may be open at a time.
type Sandbox struct {
	pluginName string
	limits     ResourceLimits
	policy     SecurityPolicy

	mu             sync.RWMutex
	usage          ResourceUsage
	operationStart time.Time
	active         bool
}

// New creates a sandbox for the named plugin.
func New(pluginName string, limits ResourceLimits, policy SecurityPolicy) *Sandbox {
	return &Sandbox{
		pluginName: pluginName,
		limits:     limits,
		policy:     policy,
	}
}

// StartOperation opens an execution window. Fails if one is already open.
func (s *Sandbox) StartOperation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return oops.Code(CodeSecurityViolation).
			With("plugin", s.pluginName).
			Errorf("another operation is already in progress")
	}
	s.active = true
	s.operationStart = time.Now()
	return nil
}

// EndOperation closes the window, records its wall time, then checks
// limits. The window is closed even when the limit check fails.
func (s *Sandbox) EndOperation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return oops.Code(CodeSecurityViolation).
			With("plugin", s.pluginName).
			Errorf("no operation is in progress")
	}
	s.usage.RecordExecutionTime(time.Since(s.operationStart))
	s.active = false
	s.operationStart = time.Time{}

	return s.usage.CheckLimits(s.limits)
}

// CheckLimits verifies current usage against the configured limits.
func (s *Sandbox) CheckLimits() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage.CheckLimits(s.limits)
}

// RecordAllocation accounts for a guest allocation. Allocations larger
// than the single-allocation cap are rejected before any accounting; an
// accepted allocation is still checked against the cumulative limits.
func (s *Sandbox) RecordAllocation(size uint64) error {
	if size > s.limits.MaxAllocationSize {
		return oops.Code(CodeSecurityViolation).
			With("plugin", s.pluginName).
			With("size", size).With("limit", s.limits.MaxAllocationSize).
			Errorf("allocation size limit exceeded: %d > %d bytes", size, s.limits.MaxAllocationSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.RecordAllocation(size)
	return s.usage.CheckLimits(s.limits)
}

// RecordDeallocation accounts for a guest free.
func (s *Sandbox) RecordDeallocation(size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.RecordDeallocation(size)
}

// RecordCPUTime adds CPU time and checks limits.
func (s *Sandbox) RecordCPUTime(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.RecordCPUTime(d)
	return s.usage.CheckLimits(s.limits)
}

// CheckFilesystemAccess fails and records a violation when path is not
// covered by the policy.
func (s *Sandbox) CheckFilesystemAccess(path string) error {
	if s.policy.FilesystemPathAllowed(path) {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).With("path", path).
		Errorf("filesystem access denied to path: %s", path)
}

// CheckNetworkAccess fails and records a violation when host is not
// covered by the policy.
func (s *Sandbox) CheckNetworkAccess(host string) error {
	if s.policy.NetworkHostAllowed(host) {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).With("host", host).
		Errorf("network access denied to host: %s", host)
}

// CheckEnvironmentAccess fails and records a violation when the variable
// is not covered by the policy.
func (s *Sandbox) CheckEnvironmentAccess(name string) error {
	if s.policy.EnvironmentVarAllowed(name) {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).With("var", name).
		Errorf("environment variable access denied: %s", name)
}

// CheckSubprocessExecution fails and records a violation unless the
// policy allows spawning subprocesses.
func (s *Sandbox) CheckSubprocessExecution() error {
	if s.policy.AllowSubprocess {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).
		Errorf("subprocess execution not allowed")
}

// CheckSystemInfoAccess fails and records a violation unless the policy
// allows reading system information.
func (s *Sandbox) CheckSystemInfoAccess() error {
	if s.policy.AllowSystemInfo {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).
		Errorf("system information access not allowed")
}

// CheckRecursionDepth fails and records a violation when depth exceeds
// the policy cap.
func (s *Sandbox) CheckRecursionDepth(depth int) error {
	if depth <= s.policy.MaxRecursionDepth {
		return nil
	}
	s.recordViolation()
	return oops.Code(CodeSecurityViolation).
		With("plugin", s.pluginName).
		With("depth", depth).With("limit", s.policy.MaxRecursionDepth).
		Errorf("recursion depth limit exceeded: %d > %d", depth, s.policy.MaxRecursionDepth)
}

func (s *Sandbox) recordViolation() {
	s.mu.Lock()
	s.usage.RecordSecurityViolation()
	total := s.usage.SecurityViolations
	s.mu.Unlock()

	slog.Error("security violation recorded",
		"plugin", s.pluginName,
		"total_violations", total,
	)
}

// Usage returns a snapshot of current resource usage.
func (s *Sandbox) Usage() ResourceUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage
}

// Policy returns the security policy.
func (s *Sandbox) Policy() SecurityPolicy {
	return s.policy
}

// Limits returns the resource limits.
func (s *Sandbox) Limits() ResourceLimits {
	return s.limits
}

// ResetUsage zeroes usage counters. Violation counts survive the reset.
func (s *Sandbox) ResetUsage() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage.Reset()
}

// Active reports whether an operation window is open.
func (s *Sandbox) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.active
}

// PluginName returns the owning plugin's name.
func (s *Sandbox) PluginName() string {
	return s.pluginName
}

// SecurityViolations returns the accumulated violation count.
func (s *Sandbox) SecurityViolations() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage.SecurityViolations
}

// ShouldTerminate reports whether the plugin has accumulated enough
// violations to warrant termination.
func (s *Sandbox) ShouldTerminate() bool {
	return s.SecurityViolations() >= terminationThreshold
}
