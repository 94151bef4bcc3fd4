// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

// Package sandbox enforces per-plugin resource limits and security policy.
//
// Enforcement is detect-and-terminate: usage is recorded as the engine
// reports it, limits are checked after the fact, and plugins that keep
// violating get flagged for termination.
package sandbox

import (
	"time"

	"github.com/samber/oops"
)

// CodeSecurityViolation is the oops error code for limit and policy
// violations.
const CodeSecurityViolation = "SECURITY_VIOLATION"

// ResourceLimits caps what a single plugin may consume.
type ResourceLimits struct {
	// MaxMemory is the maximum live memory in bytes.
	MaxMemory uint64
	// MaxCPUTime caps cumulative CPU time per operation window.
	MaxCPUTime time.Duration
	// MaxExecutionTime caps cumulative wall time across calls.
	MaxExecutionTime time.Duration
	// MaxOpenFiles caps concurrently open files.
	MaxOpenFiles int
	// MaxNetworkConnections caps concurrent network connections.
	MaxNetworkConnections int
	// MaxAllocationSize caps a single allocation in bytes.
	MaxAllocationSize uint64
	// MaxTotalAllocation caps cumulative allocated bytes.
	MaxTotalAllocation uint64
	// MaxStackSize caps guest stack size in bytes.
	MaxStackSize uint64
}

// DefaultLimits returns the standard limits applied to untrusted plugins.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemory:             256 * 1024 * 1024,
		MaxCPUTime:            time.Second,
		MaxExecutionTime:      5 * time.Second,
		MaxOpenFiles:          32,
		MaxNetworkConnections: 8,
		MaxAllocationSize:     16 * 1024 * 1024,
		MaxTotalAllocation:    128 * 1024 * 1024,
		MaxStackSize:          8 * 1024 * 1024,
	}
}

// ResourceUsage tracks what a plugin has consumed. It is a plain value;
// Sandbox owns the authoritative copy under its lock.
type ResourceUsage struct {
	MemoryUsed         uint64
	CPUTimeUsed        time.Duration
	ExecutionTimeUsed  time.Duration
	OpenFiles          int
	NetworkConnections int
	AllocationCount    uint64
	TotalAllocated     uint64
	PeakMemory         uint64
	SecurityViolations uint32
	LastViolationTime  time.Time
}

// RecordAllocation accounts for a new allocation of size bytes.
func (u *ResourceUsage) RecordAllocation(size uint64) {
	u.MemoryUsed += size
	u.TotalAllocated += size
	u.AllocationCount++
	if u.MemoryUsed > u.PeakMemory {
		u.PeakMemory = u.MemoryUsed
	}
}

// RecordDeallocation releases size bytes, clamping at zero.
func (u *ResourceUsage) RecordDeallocation(size uint64) {
	if size <= u.MemoryUsed {
		u.MemoryUsed -= size
	} else {
		u.MemoryUsed = 0
	}
}

// RecordCPUTime adds CPU time to the running total.
func (u *ResourceUsage) RecordCPUTime(d time.Duration) {
	u.CPUTimeUsed += d
}

// RecordExecutionTime adds wall time to the running total.
func (u *ResourceUsage) RecordExecutionTime(d time.Duration) {
	u.ExecutionTimeUsed += d
}

// RecordSecurityViolation bumps the violation counter and timestamps it.
func (u *ResourceUsage) RecordSecurityViolation() {
	u.SecurityViolations++
	u.LastViolationTime = time.Now()
}

// CheckLimits returns a SECURITY_VIOLATION error for the first limit the
// current usage exceeds. It does not mutate the usage.
func (u *ResourceUsage) CheckLimits(limits ResourceLimits) error {
	switch {
	case u.MemoryUsed > limits.MaxMemory:
		return oops.Code(CodeSecurityViolation).
			With("used", u.MemoryUsed).With("limit", limits.MaxMemory).
			Errorf("memory limit exceeded: %d > %d bytes", u.MemoryUsed, limits.MaxMemory)
	case u.CPUTimeUsed > limits.MaxCPUTime:
		return oops.Code(CodeSecurityViolation).
			With("used_ms", u.CPUTimeUsed.Milliseconds()).With("limit_ms", limits.MaxCPUTime.Milliseconds()).
			Errorf("cpu time limit exceeded: %v > %v", u.CPUTimeUsed, limits.MaxCPUTime)
	case u.ExecutionTimeUsed > limits.MaxExecutionTime:
		return oops.Code(CodeSecurityViolation).
			With("used_ms", u.ExecutionTimeUsed.Milliseconds()).With("limit_ms", limits.MaxExecutionTime.Milliseconds()).
			Errorf("execution time limit exceeded: %v > %v", u.ExecutionTimeUsed, limits.MaxExecutionTime)
	case u.OpenFiles > limits.MaxOpenFiles:
		return oops.Code(CodeSecurityViolation).
			With("open", u.OpenFiles).With("limit", limits.MaxOpenFiles).
			Errorf("open files limit exceeded: %d > %d", u.OpenFiles, limits.MaxOpenFiles)
	case u.NetworkConnections > limits.MaxNetworkConnections:
		return oops.Code(CodeSecurityViolation).
			With("connections", u.NetworkConnections).With("limit", limits.MaxNetworkConnections).
			Errorf("network connections limit exceeded: %d > %d", u.NetworkConnections, limits.MaxNetworkConnections)
	case u.TotalAllocated > limits.MaxTotalAllocation:
		return oops.Code(CodeSecurityViolation).
			With("allocated", u.TotalAllocated).With("limit", limits.MaxTotalAllocation).
			Errorf("total allocation limit exceeded: %d > %d bytes", u.TotalAllocated, limits.MaxTotalAllocation)
	}
	return nil
}

// Reset zeroes all usage counters except the security violation count and
// its timestamp, which survive resets.
func (u *ResourceUsage) Reset() {
	violations := u.SecurityViolations
	lastViolation := u.LastViolationTime
	*u = ResourceUsage{
		SecurityViolations: violations,
		LastViolationTime:  lastViolation,
	}
}
