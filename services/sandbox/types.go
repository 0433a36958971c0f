// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"time"
)

// =============================================================================
// Sandbox State Machine
// =============================================================================

// State is the lifecycle state of a sandbox.
//
// Transitions:
//
//	creating → ready → executing → ready (repeated Execute calls)
//	ready/executing → released | expired (terminal)
//	any → error (terminal, on provision or execution failure)
//
// Terminal states are never left. A sandbox that entered "error" cannot be
// recovered by the pool; the caller must Create a new one.
type State string

const (
	StateCreating  State = "creating"
	StateReady     State = "ready"
	StateExecuting State = "executing"
	StateReleased  State = "released"
	StateExpired   State = "expired"
	StateError     State = "error"
)

// Terminal reports whether the state can never be left.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateExpired || s == StateError
}

// =============================================================================
// Configuration Types
// =============================================================================

// ResourceSpec describes the compute resources granted to a sandbox.
//
// Defaults match the standard development sandbox shape: 2 CPU cores,
// 4 GB memory, 8 GB disk.
type ResourceSpec struct {
	CPUCores int `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryGB int `json:"memory_gb" yaml:"memory_gb"`
	DiskGB   int `json:"disk_gb" yaml:"disk_gb"`
}

// DefaultResources returns the standard sandbox resource allocation.
func DefaultResources() ResourceSpec {
	return ResourceSpec{CPUCores: 2, MemoryGB: 4, DiskGB: 8}
}

// Config describes a sandbox to be provisioned.
//
// # Fields
//
//   - Template: Provider-side image or scaffold template reference.
//   - Resources: CPU/memory/disk allocation. Zero value uses DefaultResources().
//   - Timeout: Wall-clock ceiling for the sandbox. Zero uses the pool default.
//   - Labels: Opaque provider labels (project, session, etc.).
type Config struct {
	Template  string            `json:"template"`
	Resources ResourceSpec      `json:"resources"`
	Timeout   time.Duration     `json:"timeout"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// =============================================================================
// Runtime Types
// =============================================================================

// Handle is an opaque reference to a live sandbox.
//
// Handles are returned by Pool.Create and remain valid until the sandbox
// reaches a terminal state. Operations against a terminal sandbox fail
// with ErrSandboxNotFound.
type Handle struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

// Info is a point-in-time snapshot of a sandbox record.
type Info struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Template  string            `json:"template"`
	Resources ResourceSpec      `json:"resources"`
	State     State             `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	LastUsed  time.Time         `json:"last_used"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ExecutionResult carries the outcome of a single Execute call.
type ExecutionResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// PreviewLink exposes a running sandbox port to the outside world.
//
// The token must be presented by the browser (or via the preview token
// header) for the provider to route traffic to the sandbox.
type PreviewLink struct {
	URL   string `json:"url"`
	Token string `json:"token"`
	Port  int    `json:"port"`
}
